// Package config 基于 viper 加载网关配置，支持环境变量覆盖和文件热更新
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// source 配置文件的定位方式
type source struct {
	file     string
	name     string
	typ      string
	paths    []string
	optional bool
}

type envOverride struct {
	prefix   string
	replacer *strings.Replacer
}

// Config 对 viper 实例加读写锁，热更新与并发读取互不干扰
type Config struct {
	mu    sync.RWMutex
	viper *viper.Viper

	src      source
	env      envOverride
	defaults map[string]any
	w        watchState
}

func New(opts ...Option) *Config {
	c := &Config{viper: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 依次应用默认值、环境变量和配置文件
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.viper
	for k, val := range c.defaults {
		v.SetDefault(k, val)
	}
	if c.env.prefix != "" {
		v.SetEnvPrefix(c.env.prefix)
		v.AutomaticEnv()
	}
	if c.env.replacer != nil {
		v.SetEnvKeyReplacer(c.env.replacer)
	}

	switch {
	case c.src.file != "":
		v.SetConfigFile(c.src.file)
	default:
		if c.src.name != "" {
			v.SetConfigName(c.src.name)
		}
		if c.src.typ != "" {
			v.SetConfigType(c.src.typ)
		}
		for _, p := range c.src.paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return c.classify(err)
	}
	if c.w.auto {
		c.startWatch()
	}
	return nil
}

func (c *Config) classify(err error) error {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		if c.src.optional {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrConfigNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
}

// read 在读锁下取值
func read[T any](c *Config, key string, get func(*viper.Viper, string) T) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return get(c.viper, key)
}

// Get 按类型断言取原始值，类型不符返回零值
func Get[T any](c *Config, key string) T {
	return read(c, key, func(v *viper.Viper, k string) T {
		out, _ := v.Get(k).(T)
		return out
	})
}

func (c *Config) GetString(key string) string {
	return read(c, key, (*viper.Viper).GetString)
}

func (c *Config) GetInt(key string) int {
	return read(c, key, (*viper.Viper).GetInt)
}

func (c *Config) GetBool(key string) bool {
	return read(c, key, (*viper.Viper).GetBool)
}

func (c *Config) GetDuration(key string) time.Duration {
	return read(c, key, (*viper.Viper).GetDuration)
}

func (c *Config) GetStringSlice(key string) []string {
	return read(c, key, (*viper.Viper).GetStringSlice)
}

// IsSet 默认值也算已设置
func (c *Config) IsSet(key string) bool {
	return read(c, key, (*viper.Viper).IsSet)
}

// Set 运行期覆盖，优先级高于文件与环境变量
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// ConfigFileUsed 未找到文件时为空
func (c *Config) ConfigFileUsed() string {
	return read(c, "", func(v *viper.Viper, _ string) string { return v.ConfigFileUsed() })
}

// Unmarshal 按 mapstructure 标签解码全部配置
func (c *Config) Unmarshal(out any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(out)
}

func (c *Config) Close() {
	c.StopWatch()
}
