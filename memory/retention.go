package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/meshchat/logging"
)

const (
	// DefaultRetentionSchedule runs the sweep nightly at 03:00.
	DefaultRetentionSchedule = "0 3 * * *"
	// DefaultRetentionPeriod is the idle time after which sessions are archived.
	DefaultRetentionPeriod = 30 * 24 * time.Hour
)

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	// Schedule is a standard five-field cron expression.
	Schedule        string
	RetentionPeriod time.Duration
	// SweepTimeout bounds one sweep.
	SweepTimeout time.Duration
	Logger       logging.Logger
	Now          func() time.Time
}

// Archiver periodically archives sessions idle for longer than the retention
// period.
type Archiver struct {
	manager *Manager
	cron    *cron.Cron
	opts    ArchiverOptions
}

// NewArchiver creates an Archiver and registers its sweep. It fails on an
// invalid schedule.
func NewArchiver(manager *Manager, optFns ...func(o *ArchiverOptions)) (*Archiver, error) {
	opts := ArchiverOptions{
		Schedule:        DefaultRetentionSchedule,
		RetentionPeriod: DefaultRetentionPeriod,
		SweepTimeout:    time.Minute,
		Logger:          logging.NoOpLogger{},
		Now:             time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RetentionPeriod <= 0 {
		return nil, fmt.Errorf("retention period must be positive, got %s", opts.RetentionPeriod)
	}

	a := &Archiver{
		manager: manager,
		cron:    cron.New(),
		opts:    opts,
	}

	if _, err := a.cron.AddFunc(opts.Schedule, a.run); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", opts.Schedule, err)
	}

	return a, nil
}

// Start starts the scheduler in its own goroutine.
func (a *Archiver) Start() {
	a.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (a *Archiver) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
}

// Sweep archives idle sessions once and returns how many were archived.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	cutoff := a.opts.Now().Add(-a.opts.RetentionPeriod)
	return a.manager.ArchiveIdle(ctx, cutoff)
}

func (a *Archiver) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.SweepTimeout)
	defer cancel()

	n, err := a.Sweep(ctx)
	if err != nil {
		a.opts.Logger.Error("retention sweep failed", "archived", n, "error", err)
		return
	}

	a.opts.Logger.Info("retention sweep finished", "archived", n)
}
