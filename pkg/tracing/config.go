package tracing

import (
	"time"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/errors"
)

// 导出器类型
const (
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP over gRPC
	ExporterNoop     = "noop"
)

// ErrInvalidConfig 追踪配置无效
var ErrInvalidConfig = errors.New(2201, "invalid tracing config", 500)

// Config 链路追踪配置
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter stdout/otlp/otlp-grpc/noop
	Exporter        string
	Endpoint        string
	ExporterHeaders map[string]string
	Insecure        bool

	// SamplingRate 0.0-1.0
	SamplingRate float64
	// SamplingType always/never/ratio/parent_based
	SamplingType string

	Enabled            bool
	ResourceAttributes map[string]string

	BatchTimeout       time.Duration
	MaxExportBatchSize int
	MaxQueueSize       int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "relay",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		Exporter:           ExporterStdout,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// FromSettings 由配置文件中的 tracing 段生成配置
func FromSettings(s config.TracingSettings) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = s.Enabled
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if s.Exporter != "" {
		cfg.Exporter = s.Exporter
	}
	cfg.Endpoint = s.Endpoint
	cfg.Insecure = s.Insecure
	if s.SamplingRate > 0 {
		cfg.SamplingRate = s.SamplingRate
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("sampling rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLP, ExporterOTLPGRPC, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessage("invalid exporter type: " + c.Exporter)
	}
	return nil
}
