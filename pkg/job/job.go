// Package job 按 cron 表达式运行进程内的维护任务
package job

import (
	"context"
	"time"

	"github.com/tokmz/relay/pkg/errors"
)

var (
	// ErrInvalidJob 任务定义不合法（名称为空、缺少执行函数或表达式无法解析）
	ErrInvalidJob = errors.New(3101, "Invalid job", 400)
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New(3102, "Job not found", 404)
	// ErrJobExists 同名任务已注册
	ErrJobExists = errors.New(3103, "Job already exists", 409)
)

// Func 任务执行函数
type Func func(ctx context.Context) error

// Job 定时任务
type Job struct {
	// Name 任务名，在调度器内唯一
	Name string
	// Spec cron 表达式，秒字段可选，也支持 "@every 30s" 等描述符
	Spec string
	// Run 执行函数
	Run Func
	// Timeout 单次执行超时，为 0 时使用调度器默认值
	Timeout time.Duration
}

// Stats 任务执行统计
type Stats struct {
	Runs         int64
	Failures     int64
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
	Next         time.Time
}
