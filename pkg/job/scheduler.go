package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

const tracerName = "relay.job"

// Option 调度器选项
type Option func(*Scheduler)

// WithLogger 设置日志实例
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTimeout 设置任务默认超时
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocation 设置 cron 表达式使用的时区
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Scheduler 定时任务调度器
// 同一任务上一轮未结束时跳过本轮，任务 panic 记为失败
type Scheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	log      logger.Logger
	timeout  time.Duration
	location *time.Location

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	job Job
	id  cron.EntryID

	mu    sync.Mutex
	stats Stats
}

// New 创建调度器
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		log:      logger.Nop(),
		timeout:  30 * time.Second,
		location: time.Local,
		jobs:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add 注册任务，调度器运行中也可添加
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return ErrInvalidJob.WithMessage("job needs a name and a run function")
	}
	schedule, err := s.parser.Parse(j.Spec)
	if err != nil {
		return ErrInvalidJob.WithMessagef("invalid spec %q for job %s", j.Spec, j.Name).WithError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return ErrJobExists.WithMessagef("job %s already exists", j.Name)
	}

	e := &entry{job: j}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = s.execute(s.ctx, e)
	}))
	s.jobs[j.Name] = e
	return nil
}

// Remove 移除任务，正在执行的一轮不受影响
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	return true
}

// Trigger 立即同步执行一次任务，返回执行结果
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return ErrJobNotFound.WithMessagef("job %s not found", name)
	}
	return s.execute(ctx, e)
}

// Names 返回已注册任务名（升序）
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats 返回任务执行统计
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	e.mu.Lock()
	st := e.stats
	e.mu.Unlock()
	st.Next = s.cron.Entry(e.id).Next
	return st, true
}

// Run 启动调度并阻塞到 ctx 取消，返回前等待正在执行的任务结束
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("job scheduler started", zap.Strings("jobs", s.Names()))

	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("job scheduler stopped")
	return nil
}

// execute 执行一轮任务并记录统计
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "job."+e.job.Name,
		trace.WithAttributes(attribute.String("job.name", e.job.Name)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.Name, r)
			s.log.ErrorContext(ctx, "job panic", zap.String("job", e.job.Name),
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}

		elapsed := time.Since(start)
		e.mu.Lock()
		e.stats.Runs++
		e.stats.LastRun = start
		e.stats.LastDuration = elapsed
		e.stats.LastError = ""
		if err != nil {
			e.stats.Failures++
			e.stats.LastError = err.Error()
		}
		e.mu.Unlock()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.log.WarnContext(ctx, "job failed", zap.String("job", e.job.Name),
				zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		s.log.DebugContext(ctx, "job finished", zap.String("job", e.job.Name), zap.Duration("elapsed", elapsed))
	}()

	return e.job.Run(ctx)
}
