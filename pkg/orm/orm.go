// Package orm 打开可选的关系库，目前只服务房间访问策略表
package orm

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"

	"github.com/tokmz/relay/pkg/errors"
)

var (
	ErrInvalidConfig = errors.New(4001, "database invalid config")
	ErrConnect       = errors.New(4002, "database connect failed", 503)
)

var dialects = map[DBType]func(dsn string) gorm.Dialector{
	MySQL:      mysql.Open,
	PostgreSQL: postgres.Open,
	SQLite:     sqlite.Open,
	SQLServer:  sqlserver.Open,
}

func dialect(t DBType, dsn string) (gorm.Dialector, error) {
	open, ok := dialects[t]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported database type %q", ErrInvalidConfig, t)
	}
	return open(dsn), nil
}

// New 打开连接池并按配置注册读写分离与追踪插件
func New(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: DSN is required", ErrInvalidConfig)
	}
	primary, err := dialect(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(primary, &gorm.Config{
		PrepareStmt:    cfg.PrepareStmt,
		Logger:         newGormLogger(cfg.Logger, cfg.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.TablePrefix},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	var plugins []gorm.Plugin
	if rw := cfg.ReadWriteSplit; rw != nil {
		resolver, err := replicas(cfg, rw)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, resolver)
	}
	if cfg.Tracing {
		plugins = append(plugins, tracingPlugin{withStatement: cfg.TraceStatements})
	}
	for _, p := range plugins {
		if err := db.Use(p); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("%w: plugin %s: %w", ErrConnect, p.Name(), err)
		}
	}
	return db, nil
}

// replicas 只读查询分发到从库，写入与事务留在主库
func replicas(cfg *Config, rw *ReadWriteSplitConfig) (*dbresolver.DBResolver, error) {
	if len(rw.Sources) == 0 {
		return nil, fmt.Errorf("%w: read-write split needs at least one replica", ErrInvalidConfig)
	}
	dialectors := make([]gorm.Dialector, 0, len(rw.Sources))
	for _, dsn := range rw.Sources {
		d, err := dialect(cfg.Type, dsn)
		if err != nil {
			return nil, err
		}
		dialectors = append(dialectors, d)
	}

	var policy dbresolver.Policy = dbresolver.RandomPolicy{}
	if rw.Policy == "round_robin" {
		policy = dbresolver.RoundRobinPolicy()
	}
	return dbresolver.Register(dbresolver.Config{Replicas: dialectors, Policy: policy}).
		SetMaxIdleConns(cfg.MaxIdleConns).
		SetMaxOpenConns(cfg.MaxOpenConns).
		SetConnMaxLifetime(cfg.ConnMaxLifetime), nil
}

func Close(db *gorm.DB) error {
	pool, err := db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
