package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hupe1980/meshchat"
	"github.com/hupe1980/meshchat/agent"
	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/config"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/memory"
	"github.com/hupe1980/meshchat/memory/redis"
	"github.com/hupe1980/meshchat/memory/sqlite"
	"github.com/hupe1980/meshchat/model"
	"github.com/hupe1980/meshchat/model/anthropic"
	"github.com/hupe1980/meshchat/model/openai"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/task"
)

// leveledLogger is a logging.Logger whose level can be hot reloaded.
type leveledLogger interface {
	logging.Logger
	config.LevelSetter
}

func newLogger(cfg config.LogConfig, out io.Writer) leveledLogger {
	level, _ := logging.ParseLevel(cfg.Level)

	if cfg.Format == "console" {
		return logging.NewConsoleLogger(out, level)
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}

// app holds everything serve needs to run and to shut down.
type app struct {
	mesh     *meshchat.Mesh
	archiver *memory.Archiver
	metrics  *prometheus.Registry
	closers  []io.Closer
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(cfg *config.Config, logger logging.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	var store core.ConversationStore
	switch cfg.Memory.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Memory.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		store = s
	default:
		store = memory.NewInMemoryStore()
	}

	var history core.RecentHistory
	switch cfg.Memory.History {
	case config.HistoryRedis:
		h, err := redis.New(redis.Config{
			Addr:     cfg.Memory.Redis.Addr,
			Password: cfg.Memory.Redis.Password,
			DB:       cfg.Memory.Redis.DB,
		}, func(o *redis.Options) {
			o.Capacity = cfg.Memory.RingCapacity
			o.KeyPrefix = cfg.Memory.Redis.KeyPrefix
			o.TTL = cfg.Memory.Redis.TTL
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, h)
		history = h
	default:
		history = memory.NewRingHistory(func(o *memory.RingHistoryOptions) {
			o.Capacity = cfg.Memory.RingCapacity
			o.MaxConversations = cfg.Memory.MaxConversations
		})
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	var metrics *orchestrator.Metrics
	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = orchestrator.NewMetrics(a.metrics)
	}

	mesh, err := meshchat.New(func(o *meshchat.Options) {
		o.Store = store
		o.History = history
		o.Classifier = classifier
		o.Logger = logger
		o.Memory = append(o.Memory, func(o *memory.Options) {
			o.RingCapacity = cfg.Memory.RingCapacity
		})
		o.Task = append(o.Task, func(o *task.Options) {
			o.MaxMessageLength = cfg.Task.MaxMessageLength
			o.ClassifyTimeout = cfg.Task.ClassifyTimeout
			o.HistoryLimit = cfg.Task.HistoryLimit
		})
		o.Orchestrator = append(o.Orchestrator, func(o *orchestrator.Options) {
			o.MaxAgents = cfg.Orchestrator.MaxAgents
			o.Deadline = cfg.Orchestrator.Deadline
			o.HighConfidence = cfg.Orchestrator.HighConfidence
			o.MaxRetries = cfg.Orchestrator.MaxRetries
			o.MaxConcurrentTasks = cfg.Orchestrator.MaxConcurrentTasks
			o.FallbackText = cfg.Orchestrator.FallbackText
			o.Metrics = metrics
		})
		o.Chat = append(o.Chat, func(o *chat.Options) {
			o.PersistTimeout = cfg.Memory.PersistTimeout
		})
	})
	if err != nil {
		return nil, err
	}
	a.mesh = mesh

	agents, err := loadAgents(cfg.Agents)
	if err != nil {
		return nil, err
	}
	if err := mesh.RegisterAgent(agents...); err != nil {
		return nil, err
	}

	if cfg.Memory.Retention.Enabled {
		a.archiver, err = memory.NewArchiver(mesh.Memory(), func(o *memory.ArchiverOptions) {
			o.Schedule = cfg.Memory.Retention.Schedule
			o.RetentionPeriod = cfg.Memory.Retention.Period
			o.Logger = logging.WithComponent(logger, "retention")
		})
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func loadAgents(cfg config.AgentsConfig) ([]core.Agent, error) {
	catalog, err := agent.LoadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	built, err := catalog.Build(modelResolver(cfg.Mock))
	if err != nil {
		return nil, err
	}

	agents := make([]core.Agent, 0, len(built))
	for _, a := range built {
		agents = append(agents, a)
	}

	return agents, nil
}

// modelResolver maps catalog provider names onto model adapters. API keys are
// picked up from OPENAI_API_KEY and ANTHROPIC_API_KEY by the SDKs.
func modelResolver(mock bool) agent.ModelResolver {
	return func(provider, name string) (model.Model, error) {
		if mock {
			return model.NewMockModel(name, "mock"), nil
		}

		switch strings.ToLower(provider) {
		case "openai", "":
			return openai.NewModel(func(o *openai.Options) {
				if name != "" {
					o.Model = name
				}
			}), nil
		case "anthropic":
			return anthropic.NewModel(func(o *anthropic.Options) {
				if name != "" {
					o.Model = anthropicsdk.Model(name)
				}
			}), nil
		case "mock":
			return model.NewMockModel(name, "mock"), nil
		default:
			return nil, fmt.Errorf("unknown model provider %q", provider)
		}
	}
}

func newClassifier(cfg *config.Config) (core.Classifier, error) {
	if cfg.Task.Classifier != config.ClassifierLLM {
		return task.NewKeywordClassifier(), nil
	}

	provider, name, _ := strings.Cut(cfg.Task.ClassifierModel, "/")

	llm, err := modelResolver(cfg.Agents.Mock)(provider, name)
	if err != nil {
		return nil, err
	}

	return task.NewModelClassifier(llm), nil
}
