package orm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokmz/relay/pkg/logger"
)

// zapGormLogger 将 GORM 日志转发到 logger.Logger
type zapGormLogger struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(l logger.Logger, slow time.Duration) gormlogger.Interface {
	if l == nil {
		return gormlogger.Discard
	}
	return &zapGormLogger{
		log:           l.With(zap.String("component", "gorm")),
		level:         gormlogger.Warn,
		slowThreshold: slow,
	}
}

func (z *zapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *z
	c.level = level
	return &c
}

func (z *zapGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Info {
		z.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (z *zapGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Warn {
		z.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (z *zapGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Error {
		z.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (z *zapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && z.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		z.log.ErrorContext(ctx, "query failed",
			zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed), zap.Error(err))
	case z.slowThreshold > 0 && elapsed > z.slowThreshold && z.level >= gormlogger.Warn:
		sql, rows := fc()
		z.log.WarnContext(ctx, "slow query",
			zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case z.level >= gormlogger.Info:
		sql, rows := fc()
		z.log.DebugContext(ctx, "query",
			zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
