package orm

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const tracerName = "relay.gorm"

// tracingPlugin 为每条语句创建客户端 span。访问策略查询发生在加入房间的路径上，
// span 会挂在对应 ws 事件的 span 之下
type tracingPlugin struct {
	// withStatement 记录完整 SQL，其中可能含有用户 id 与房间 id
	withStatement bool
}

// gorm 的 callback 类型未导出，只能按方法集接收
type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

type hookPair struct{ before, after registrar }

func (tracingPlugin) Name() string { return "relay:tracing" }

func (p tracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	pairs := map[string]hookPair{
		"create": {cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		"query":  {cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		"update": {cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		"delete": {cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
		"row":    {cb.Row().Before("gorm:row"), cb.Row().After("gorm:row")},
		"raw":    {cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw")},
	}
	for op, hp := range pairs {
		if err := hp.before.Register("relay:span_start_"+op, p.start(op)); err != nil {
			return err
		}
		if err := hp.after.Register("relay:span_end_"+op, p.end); err != nil {
			return err
		}
	}
	return nil
}

func (p tracingPlugin) start(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		// 每次取全局 provider，tracing.Setup 可能晚于数据库初始化
		ctx, _ = otel.Tracer(tracerName).Start(ctx, "gorm."+op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemKey.String(db.Dialector.Name()),
				semconv.DBOperationKey.String(op),
			),
		)
		db.Statement.Context = ctx
	}
}

func (p tracingPlugin) end(db *gorm.DB) {
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	attrs := []attribute.KeyValue{attribute.Int64("db.rows_affected", db.Statement.RowsAffected)}
	if t := db.Statement.Table; t != "" {
		attrs = append(attrs, semconv.DBSQLTableKey.String(t))
	}
	if sql := db.Statement.SQL.String(); p.withStatement && sql != "" {
		attrs = append(attrs, semconv.DBStatementKey.String(sql))
	}
	span.SetAttributes(attrs...)

	// 策略表没有记录是正常结果
	if err := db.Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
