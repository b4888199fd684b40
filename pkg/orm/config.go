package orm

import (
	"time"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/logger"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType
	DSN  string

	// 连接池
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	PrepareStmt bool

	// 日志，为 nil 时不输出
	Logger        logger.Logger
	SlowThreshold time.Duration

	TablePrefix string
	Tracing     bool // 注册 OpenTelemetry 回调
	// TraceStatements 在 span 上记录完整 SQL
	TraceStatements bool

	// 读写分离（可选）
	ReadWriteSplit *ReadWriteSplitConfig
}

// ReadWriteSplitConfig 读写分离配置
type ReadWriteSplitConfig struct {
	Sources []string // 从库 DSN 列表
	Policy  string   // random, round_robin
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            SQLite,
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		SlowThreshold:   200 * time.Millisecond,
	}
}

// FromSettings 将 database 配置段转换为 Config
func FromSettings(s config.DatabaseSettings) *Config {
	cfg := DefaultConfig()
	if s.Type != "" {
		cfg.Type = DBType(s.Type)
	}
	cfg.DSN = s.DSN
	if len(s.Replicas) > 0 {
		cfg.ReadWriteSplit = &ReadWriteSplitConfig{Sources: s.Replicas, Policy: "round_robin"}
	}
	return cfg
}
