package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/shawkym/roomsync/pkg/log"
)

// ReloadFunc receives the configuration in effect before and after a reload.
type ReloadFunc func(previous, current *Config)

// ConfigWatcher reloads a config file when viper reports it changed.
//
// A reload that fails to parse or validate is dropped and the previous
// configuration stays current. Listeners run one reload at a time, in
// registration order; a panicking listener is logged and the rest still run.
// Fields that only take effect at start-up (see RestartRequired) are swapped
// in like any other, but a warning is logged.
type ConfigWatcher struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	viper     *viper.Viper
	listeners []ReloadFunc

	// reloadMu serializes reloads; fsnotify often reports one save twice.
	reloadMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// NewConfigWatcher loads path once and prepares a viper instance to watch it.
// Nothing is watched until StartWatching.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config with viper: %w", err)
	}

	log.WithField("config_path", path).Debug("config watcher ready")
	return &ConfigWatcher{
		current: cfg,
		path:    path,
		viper:   v,
		done:    make(chan struct{}),
	}, nil
}

// GetConfig returns the configuration from the last successful load.
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}

// OnConfigChange adds a listener. Listeners added during a reload see the
// next one.
func (cw *ConfigWatcher) OnConfigChange(fn ReloadFunc) {
	cw.mu.Lock()
	cw.listeners = append(cw.listeners, fn)
	cw.mu.Unlock()
}

// StartWatching hooks the file into viper's watcher and blocks until
// StopWatching.
func (cw *ConfigWatcher) StartWatching() {
	cw.viper.OnConfigChange(cw.handleConfigChange)
	cw.viper.WatchConfig()
	log.WithField("config_path", cw.path).Info("watching config file")

	<-cw.done
}

// StopWatching releases StartWatching. Later calls are no-ops.
func (cw *ConfigWatcher) StopWatching() {
	cw.doneOnce.Do(func() {
		close(cw.done)
		log.Info("stopped watching config file")
	})
}

// RestartRequired reports whether next changes a field the engine only
// reads at start-up.
func RestartRequired(prev, next *Config) bool {
	return prev.Homeserver != next.Homeserver ||
		prev.UserID != next.UserID ||
		prev.SessionFile != next.SessionFile
}

func (cw *ConfigWatcher) handleConfigChange(e fsnotify.Event) {
	cw.reloadMu.Lock()
	defer cw.reloadMu.Unlock()

	entry := log.WithFields(map[string]interface{}{
		"event":       e.Op.String(),
		"config_path": cw.path,
	})

	next, err := LoadConfig(cw.path)
	if err != nil {
		entry.WithError(err).Error("config reload rejected, keeping previous")
		return
	}

	cw.mu.Lock()
	prev := cw.current
	cw.current = next
	listeners := append([]ReloadFunc(nil), cw.listeners...)
	cw.mu.Unlock()

	if RestartRequired(prev, next) {
		entry.Warn("homeserver, user or session file changed; restart to apply")
	}
	entry.WithFields(map[string]interface{}{
		"log_level": next.Logging.Level,
		"auto_join": next.AutoJoin.Enabled,
		"listeners": len(listeners),
	}).Info("config reloaded")

	for _, fn := range listeners {
		notifyListener(fn, prev, next)
	}
}

func notifyListener(fn ReloadFunc, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("config reload listener panicked")
		}
	}()
	fn(prev, next)
}
