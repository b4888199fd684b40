package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/middleware"
	"github.com/tokmz/relay/pkg/acl"
	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/broker"
	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/job"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/metrics"
	"github.com/tokmz/relay/pkg/orm"
	"github.com/tokmz/relay/pkg/ratelimit"
	"github.com/tokmz/relay/pkg/room"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/validator"
	"github.com/tokmz/relay/pkg/ws"
)

// serve 组装所有组件并运行到收到退出信号
func serve(ctx context.Context, cmd *cli.Command) error {
	var reload atomic.Pointer[func()]
	settings, cfg, err := config.Load(cmd.String("config"),
		config.WithAutoWatch(cmd.Bool("watch")),
		config.WithOnChange(func() {
			if fn := reload.Load(); fn != nil {
				(*fn)()
			}
		}),
	)
	if err != nil {
		return err
	}
	defer cfg.Close()
	if addr := cmd.String("addr"); addr != "" {
		settings.Server.Addr = addr
	}

	log, err := logger.New(logger.FromSettings(settings.Log))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("configuration loaded", zap.String("file", cfg.ConfigFileUsed()))

	tracingCfg := tracing.FromSettings(settings.Tracing)
	tracingCfg.ServiceVersion = relay.Version
	if _, err := tracing.Setup(ctx, tracingCfg); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	st, err := store.New(ctx, store.FromSettings(settings.Store))
	if err != nil {
		return err
	}
	defer st.Close()

	collector := metrics.New()

	tokens, err := auth.New(settings.Auth.Secret,
		auth.WithSettings(settings.Auth),
		auth.WithStore(st),
		auth.WithLogger(log),
	)
	if err != nil {
		return err
	}

	publisher, err := broker.New(settings.Broker, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	gwOpts := []ws.Option{
		ws.WithSettings(settings.Gateway),
		ws.WithAcceptAccessTokens(settings.Auth.AcceptAccessTokens),
		ws.WithLogger(log),
		ws.WithMetrics(collector),
		ws.WithPublisher(publisher),
		ws.WithRegistry(room.New(st, room.WithSettings(settings.Room), room.WithLogger(log))),
		ws.WithValidator(validator.New(validator.FromSettings(settings.Validator))),
		ws.WithLimiter(ratelimit.New(st, ratelimit.FromSettings(settings.RateLimit),
			ratelimit.WithLogger(log),
			ratelimit.WithOnStoreError(func(op string, _ error) { collector.StoreError(op) }),
		)),
	}

	if settings.Database.Enabled {
		db, err := openPolicies(ctx, settings.Database, log)
		if err != nil {
			return err
		}
		defer func() { _ = orm.Close(db) }()
		gwOpts = append(gwOpts, ws.WithAccessChecker(acl.New(db)))
	}

	gw, err := ws.New(st, tokens, gwOpts...)
	if err != nil {
		return err
	}

	reloadFn := func() {
		next, err := cfg.Settings()
		if err != nil {
			log.Warn("config reload rejected", zap.Error(err))
			return
		}
		log.SetLevel(logger.ParseLevel(next.Log.Level))
		gw.SetAllowedOrigins(next.Gateway.AllowedOrigins, next.Gateway.AllowEmptyOrigin)
		log.Info("config reloaded",
			zap.String("level", next.Log.Level),
			zap.Strings("allowed_origins", next.Gateway.AllowedOrigins),
		)
	}
	reload.Store(&reloadFn)

	engine := relay.New(
		relay.WithSettings(settings.Server),
		relay.WithLogger(log),
		relay.WithBeforeShutdown(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
			defer cancel()
			if err := gw.Shutdown(shutdownCtx); err != nil {
				log.Warn("gateway shutdown incomplete", zap.Error(err))
			}
		}),
	)

	var httpLimiter *ratelimit.Local
	handlers := []relay.HandlerFunc{
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: []string{"/ws", "/healthz", "/metrics"}}),
		middleware.Logger(log, &middleware.LoggerConfig{ExcludePaths: []string{"/healthz", "/metrics"}}),
		middleware.CORS(&middleware.CORSConfig{
			AllowOriginFunc: gw.AllowsOrigin,
			AllowMethods:    middleware.DefaultCORSConfig().AllowMethods,
			AllowHeaders:    middleware.DefaultCORSConfig().AllowHeaders,
			MaxAge:          12 * time.Hour,
		}),
	}
	if settings.Server.RateLimit > 0 {
		httpLimiter = ratelimit.NewLocal(settings.Server.RateLimit, settings.Server.RateBurst, 10*time.Minute)
		handlers = append(handlers, middleware.RateLimiter(&middleware.RateLimiterConfig{
			Limiter:      httpLimiter,
			ExcludePaths: []string{"/healthz", "/metrics"},
			Logger:       log,
		}))
	}
	engine.Use(handlers...)

	api := &relay.API{
		Gateway:   gw,
		Store:     st,
		Tokens:    tokens,
		Metrics:   collector.Handler(),
		Validator: validator.New(validator.FromSettings(settings.Validator)),
		Logger:    log,
	}
	api.Register(engine.RouterGroup())

	var sched *job.Scheduler
	if settings.Jobs.Enabled {
		sched = job.New(job.WithLogger(log), job.WithTimeout(settings.Jobs.Timeout))
		m := &maintenance{gw: gw, st: st, limiter: httpLimiter, metrics: collector, log: log}
		if err := m.register(sched, settings.Jobs.Schedules); err != nil {
			return err
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return gw.Run(ctx) })
	eg.Go(func() error { return engine.Run(ctx) })
	if sched != nil {
		eg.Go(func() error { return sched.Run(ctx) })
	}
	if httpLimiter != nil && (sched == nil || settings.Jobs.Schedules["limiter_gc"] == "") {
		eg.Go(func() error {
			httpLimiter.Run(ctx)
			return nil
		})
	}

	err = eg.Wait()
	log.Info("relayd stopped", zap.Error(err))
	return err
}

// openPolicies 打开房间访问策略数据库
func openPolicies(ctx context.Context, s config.DatabaseSettings, log logger.Logger) (*gorm.DB, error) {
	cfg := orm.FromSettings(s)
	cfg.Logger = log
	cfg.Tracing = true

	db, err := orm.New(cfg)
	if err != nil {
		return nil, err
	}
	if s.AutoMigrate {
		if err := acl.New(db).AutoMigrate(ctx); err != nil {
			_ = orm.Close(db)
			return nil, err
		}
	}
	return db, nil
}
