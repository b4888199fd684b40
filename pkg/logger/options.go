package logger

import "github.com/tokmz/relay/pkg/config"

// Option 调整 NewWithOptions 构造的 Config
type Option func(*Config)

// WithSettings 以 log 配置段为基础，后续 Option 在其上覆盖
func WithSettings(s config.LogSettings) Option {
	return func(c *Config) { *c = *FromSettings(s) }
}

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 同时写 stdout；没有任何输出目标时 New 也会默认启用
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 追加写入单个文件，不轮转
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotation 按大小轮转写入 filename，其余参数取 lumberjack 默认值
func WithRotation(filename string, maxSizeMB int) Option {
	return func(c *Config) {
		c.Rotate = &RotateConfig{Filename: filename, MaxSize: maxSizeMB}
	}
}

// WithSampling 高频日志（如每条入站消息）按秒采样
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		c.Sampling = &SamplingConfig{Initial: initial, Thereafter: thereafter}
	}
}
