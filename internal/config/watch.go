package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the config file whenever it is written and passes the
// result to onChange. An invalid edit is reported as an error and the
// previous configuration stays in effect. Watch does nothing when no
// config file is in use.
func Watch(onChange func(*Config, error)) bool {
	if viper.ConfigFileUsed() == "" {
		return false
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Load())
	})
	viper.WatchConfig()
	return true
}

// LogLevelWatcher returns an onChange callback for Watch that applies the
// new log level through setLevel and reports rejected edits through
// onError.
func LogLevelWatcher(setLevel func(string), onError func(error)) func(*Config, error) {
	return func(cfg *Config, err error) {
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		setLevel(cfg.Logging.Level)
	}
}
