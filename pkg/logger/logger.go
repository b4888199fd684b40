// Package logger 基于 zap 的结构化日志，*Context 方法自动附带追踪与连接字段
package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	// 附带 trace_id、span_id、conn_id、user_id、room_id 中存在的部分
	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	// With 子 Logger 与父级共享级别，SetLevel 对整棵树生效
	With(fields ...zap.Field) Logger
	Sync() error
	SetLevel(level Level)
	Level() Level
}

type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

var errNoOutput = errors.New("logger: no output configured")

func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	sinks, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, errNoOutput
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(cfg.Level))
	core := zapcore.NewCore(encoderFor(cfg), zapcore.NewMultiWriteSyncer(sinks...), level)
	if s := cfg.Sampling; s != nil {
		core = zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter)
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		// 跳过本包的包装层
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return &zapLogger{z: zap.New(core, opts...), level: level}, nil
}

func NewWithOptions(opts ...Option) (Logger, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

func Nop() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// FromZap 测试中配合 zaptest/observer 使用；级别由原 core 决定，SetLevel 只改变 Level 的返回值
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{z: z, level: zap.NewAtomicLevelAt(z.Level())}
}

func encoderFor(cfg *Config) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.EncoderConfig != nil {
		ec = *cfg.EncoderConfig
	}
	if cfg.Format == ConsoleFormat {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openSinks(cfg *Config) ([]zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.File != "" {
		w, _, err := zap.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("logger: open %s: %w", cfg.File, err)
		}
		sinks = append(sinks, w)
	}
	if r := cfg.Rotate; r != nil {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   r.Filename,
			MaxSize:    r.MaxSize,
			MaxAge:     r.MaxAge,
			MaxBackups: r.MaxBackups,
			LocalTime:  true,
			Compress:   r.Compress,
		}))
	}
	return sinks, nil
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

func (l *zapLogger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Debug(msg, withContext(ctx, fields)...)
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Info(msg, withContext(ctx, fields)...)
}

func (l *zapLogger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Warn(msg, withContext(ctx, fields)...)
}

func (l *zapLogger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Error(msg, withContext(ctx, fields)...)
}

// withContext 有效 span 优先于 WithTraceID 写入的 trace_id
func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	out := make([]zap.Field, 0, len(fields)+len(ctxFields)+2)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out, zap.Stringer("trace_id", sc.TraceID()), zap.Stringer("span_id", sc.SpanID()))
	} else if id := TraceIDFrom(ctx); id != "" {
		out = append(out, zap.String("trace_id", id))
	}
	for _, f := range ctxFields {
		if v, _ := ctx.Value(f.key).(string); v != "" {
			out = append(out, zap.String(f.name, v))
		}
	}
	return append(out, fields...)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...), level: l.level}
}

func (l *zapLogger) Sync() error { return l.z.Sync() }

func (l *zapLogger) SetLevel(level Level) { l.level.SetLevel(zapcore.Level(level)) }

func (l *zapLogger) Level() Level { return Level(l.level.Level()) }
