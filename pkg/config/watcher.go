package config

import (
	"github.com/fsnotify/fsnotify"
)

// watchState viper 的 watcher 一旦启动无法关闭，
// started 记录是否已启动，active 控制是否转发回调
type watchState struct {
	auto     bool
	started  bool
	active   bool
	onChange func()
}

// startWatch 调用方持有 mu
func (c *Config) startWatch() {
	if c.viper.ConfigFileUsed() == "" {
		return
	}
	c.w.active = true
	if c.w.started {
		return
	}
	c.w.started = true

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.mu.RLock()
		active, fn := c.w.active, c.w.onChange
		c.mu.RUnlock()
		if active && fn != nil {
			fn()
		}
	})
	c.viper.WatchConfig()
}

// StartWatch 可重复调用，StopWatch 之后再次调用会恢复回调
func (c *Config) StartWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startWatch()
}

// StopWatch 停止转发变更回调，viper 仍会重新读取文件
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.active = false
}

func (c *Config) Watching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.w.active
}
