package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

type widget struct {
	ID   uint
	Name string
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Type: SQLite})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(&Config{Type: "oracle", DSN: "x"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.DatabaseSettings{Type: "postgres", DSN: "host=db", Replicas: []string{"host=r1"}})
	assert.Equal(t, PostgreSQL, cfg.Type)
	require.NotNil(t, cfg.ReadWriteSplit)
	assert.Equal(t, []string{"host=r1"}, cfg.ReadWriteSplit.Sources)
}

func TestSQLiteWithTracingAndLogging(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	defer otel.SetTracerProvider(prev)

	core, logs := observer.New(zap.DebugLevel)

	cfg := DefaultConfig()
	cfg.DSN = "file:orm_test?mode=memory&cache=shared"
	cfg.Tracing = true
	cfg.TraceStatements = true
	cfg.Logger = logger.FromZap(zap.New(core))
	db, err := New(cfg)
	require.NoError(t, err)
	defer Close(db)

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).AutoMigrate(&widget{}))
	require.NoError(t, db.WithContext(ctx).Create(&widget{Name: "a"}).Error)

	err = db.WithContext(ctx).Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)

	var names []string
	var failed sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
		if s.Name() == "gorm.raw" {
			failed = s
		}
	}
	assert.Contains(t, names, "gorm.create")
	require.NotNil(t, failed)
	assert.Equal(t, codes.Error, failed.Status().Code)
	var stmt string
	for _, kv := range failed.Attributes() {
		if kv.Key == "db.statement" {
			stmt = kv.Value.AsString()
		}
	}
	assert.Contains(t, stmt, "missing_table")
	assert.Positive(t, logs.FilterMessage("query failed").Len())
}
