package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/meshchat/logging"
)

// LevelSetter is implemented by loggers whose level can change at runtime.
type LevelSetter interface {
	SetLevel(level logging.LogLevel)
}

// Watch re-reads the config file whenever it changes and hands the validated
// result to onChange. Invalid edits are logged and ignored. Only settings that
// are safe to change at runtime should be applied by the callback.
func (l *Loader) Watch(logger logging.Logger, onChange func(cfg *Config)) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := l.decode()
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}

		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})

	l.v.WatchConfig()
}

// ApplyLogLevel returns a change handler that updates the level of setter.
func ApplyLogLevel(setter LevelSetter) func(cfg *Config) {
	return func(cfg *Config) {
		if level, ok := logging.ParseLevel(cfg.Log.Level); ok {
			setter.SetLevel(level)
		}
	}
}
