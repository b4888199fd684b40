package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/tokmz/relay/pkg/config"
)

// Level 日志级别
type Level int8

const (
	// DebugLevel 调试信息
	DebugLevel Level = iota - 1
	// InfoLevel 常规信息（默认级别）
	InfoLevel
	// WarnLevel 警告信息
	WarnLevel
	// ErrorLevel 错误信息
	ErrorLevel
	// FatalLevel 记录后退出程序
	FatalLevel Level = 5
)

// String 返回级别名称
func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel 解析级别名称，无法识别时返回 InfoLevel
func ParseLevel(s string) Level {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return InfoLevel
	}
	return Level(zl)
}

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式（生产环境）
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式（开发环境）
	ConsoleFormat Format = "console"
)

// Config 日志配置
type Config struct {
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（默认 json）

	Console bool          // 是否输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	EnableCaller     bool // 是否记录调用位置
	EnableStacktrace bool // Error 及以上是否记录堆栈

	EncoderConfig *zapcore.EncoderConfig // 自定义 Encoder 配置
}

// RotateConfig 文件轮转配置
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件最大大小（MB，默认 100）
	MaxAge     int    // 文件保留天数（默认 30）
	MaxBackups int    // 最多保留文件数（默认 10）
	Compress   bool   // 是否压缩
}

// SamplingConfig 采样配置
type SamplingConfig struct {
	Initial    int // 每秒前 N 条必定记录
	Thereafter int // 之后每 M 条记录 1 条
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if c.Rotate != nil {
		if c.Rotate.MaxSize == 0 {
			c.Rotate.MaxSize = 100
		}
		if c.Rotate.MaxAge == 0 {
			c.Rotate.MaxAge = 30
		}
		if c.Rotate.MaxBackups == 0 {
			c.Rotate.MaxBackups = 10
		}
	}
	if c.Sampling != nil {
		if c.Sampling.Initial == 0 {
			c.Sampling.Initial = 100
		}
		if c.Sampling.Thereafter == 0 {
			c.Sampling.Thereafter = 100
		}
	}
}

// FromSettings 将 log 配置段转换为 Config
// File 非空时按大小轮转并同时输出到控制台
func FromSettings(s config.LogSettings) *Config {
	cfg := &Config{
		Level:            ParseLevel(s.Level),
		Format:           Format(s.Format),
		Console:          true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
	if s.File != "" {
		cfg.Rotate = &RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}
	}
	return cfg
}
