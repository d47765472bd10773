package config

import (
	"fmt"
	"strings"
	"sync"

	"crossbot/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在配置文件变更且重新校验通过后被调用。
type ChangeListener func(*Config)

// Watcher 监听主配置文件，变更后重新 Load 并通知监听器。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
}

// Watch 读取配置文件并开始监听 FS 事件。
func Watch(path string, fn ChangeListener) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, v: v, current: cfg}
	if fn != nil {
		w.listeners = append(w.listeners, fn)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.Infof("配置已重新加载: %s", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Current 返回最近一次成功加载的配置。
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe 追加监听器。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// LogLevelListener 把 app.log_level 的变更同步到进程 logger。
func LogLevelListener(cfg *Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
}
