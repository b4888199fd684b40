package config

import "strings"

// Option 在 Load 之前调整 Config
type Option func(*Config)

// WithConfigFile 指定文件路径，设置后忽略名称与搜索路径
func WithConfigFile(path string) Option {
	return func(c *Config) { c.src.file = path }
}

// WithConfigName 按名称（不含扩展名）在搜索路径中查找
func WithConfigName(name string) Option {
	return func(c *Config) { c.src.name = name }
}

func WithConfigType(typ string) Option {
	return func(c *Config) { c.src.typ = typ }
}

// WithConfigPaths 追加搜索路径，按顺序查找
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) { c.src.paths = append(c.src.paths, paths...) }
}

// WithOptional 找不到文件时只用默认值与环境变量，不报错
func WithOptional(optional bool) Option {
	return func(c *Config) { c.src.optional = optional }
}

// WithAutoWatch Load 成功后立即监听文件
func WithAutoWatch(watch bool) Option {
	return func(c *Config) { c.w.auto = watch }
}

// WithOnChange 文件被写入后回调，回调里可调用 Settings 重新解析
func WithOnChange(fn func()) Option {
	return func(c *Config) { c.w.onChange = fn }
}

// WithDefaults 合并默认值，同名 key 以后设置的为准
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			c.defaults[k] = v
		}
	}
}

// WithEnvPrefix 启用环境变量覆盖，如 RELAY_STORE_DRIVER
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) { c.env.prefix = prefix }
}

func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.env.replacer = r }
}
