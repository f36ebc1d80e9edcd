package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talent-radar/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull 队列已满，提交立即失败而不是阻塞。
	ErrQueueFull = errors.New("work queue is full")
	// ErrClosed 队列正在关闭。
	ErrClosed = errors.New("work queue is shutting down")
)

// State 工作单元的实时状态。
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Active 判断状态是否表示仍在排队或执行。
func (s State) Active() bool {
	return s == StatePending || s == StateRunning
}

// Unit 一个延迟执行的工作单元。
type Unit struct {
	ID          string
	Name        string
	Args        any
	SubmittedAt time.Time
}

// Handler 执行某类工作单元。
type Handler func(ctx context.Context, unit Unit) error

// Config 队列配置。
type Config struct {
	Workers int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	Size    int           `mapstructure:"size" yaml:"size" json:"size"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	// Retention 已结束单元的状态保留时长，过期后 Status 不再认识该单元。
	Retention time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// Option 注册处理器时的选项。
type Option func(*registration)

// WithoutTimeout 该类单元不受队列级超时限制，由处理器自行控制截止时间。
func WithoutTimeout() Option {
	return func(r *registration) { r.noTimeout = true }
}

type registration struct {
	handler   Handler
	noTimeout bool
}

type entry struct {
	state State
	at    time.Time
}

// Queue 进程内工作队列，按名称分发到已注册的处理器，并保存每个单元的实时状态。
type Queue struct {
	logger    *zap.Logger
	workers   int
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time

	ch    chan Unit
	group *errgroup.Group
	once  sync.Once

	mu       sync.Mutex
	closed   bool
	handlers map[string]registration
	states   map[string]entry
}

// New 创建队列，Start 前需先 Register 处理器。
func New(cfg Config, log *zap.Logger) *Queue {
	q := &Queue{
		logger:    logger.OrNop(log),
		workers:   2,
		timeout:   30 * time.Minute,
		retention: time.Hour,
		now:       time.Now,
		handlers:  make(map[string]registration),
		states:    make(map[string]entry),
	}
	if cfg.Workers > 0 {
		q.workers = cfg.Workers
	}
	if cfg.Timeout > 0 {
		q.timeout = cfg.Timeout
	}
	if cfg.Retention > 0 {
		q.retention = cfg.Retention
	}
	size := 256
	if cfg.Size > 0 {
		size = cfg.Size
	}
	q.ch = make(chan Unit, size)
	return q
}

// Register 注册处理器，同名覆盖。
func (q *Queue) Register(name string, h Handler, opts ...Option) {
	reg := registration{handler: h}
	for _, opt := range opts {
		opt(&reg)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = reg
}

// Start 启动工作协程，重复调用无效。
func (q *Queue) Start() {
	q.once.Do(func() {
		q.group = new(errgroup.Group)
		for i := 0; i < q.workers; i++ {
			workerID := i + 1
			q.group.Go(func() error {
				q.logger.Debug("worker started", zap.Int("worker_id", workerID))
				for unit := range q.ch {
					q.run(workerID, unit)
				}
				q.logger.Debug("worker stopped", zap.Int("worker_id", workerID))
				return nil
			})
		}
	})
}

// Submit 非阻塞提交；ID 为空时生成 uuid。返回单元 ID。
func (q *Queue) Submit(unit Unit) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	if _, ok := q.handlers[unit.Name]; !ok {
		return "", fmt.Errorf("submit %s: no handler registered", unit.Name)
	}
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	if unit.SubmittedAt.IsZero() {
		unit.SubmittedAt = q.now()
	}
	q.pruneLocked()
	select {
	case q.ch <- unit:
		q.states[unit.ID] = entry{state: StatePending, at: q.now()}
		q.logger.Info("unit queued", zap.String("unit", unit.Name), zap.String("unit_id", unit.ID))
		return unit.ID, nil
	default:
		q.logger.Warn("queue full, unit rejected", zap.String("unit", unit.Name), zap.String("unit_id", unit.ID))
		return "", ErrQueueFull
	}
}

// Status 返回单元状态；未知单元返回 false。
func (q *Queue) Status(id string) (State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.states[id]
	return e.state, ok
}

// IsActive 单元仍在排队或执行。
func (q *Queue) IsActive(id string) bool {
	if id == "" {
		return false
	}
	s, _ := q.Status(id)
	return s.Active()
}

// Shutdown 停止接收新单元并等待已排队单元执行完毕。
// 返回 false 表示 ctx 先结束，仍有单元在执行。
func (q *Queue) Shutdown(ctx context.Context) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	if q.group == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.group.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return false
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		return true
	}
}

func (q *Queue) run(workerID int, unit Unit) {
	q.setState(unit.ID, StateRunning)
	log := q.logger.With(zap.Int("worker_id", workerID), zap.String("unit", unit.Name), zap.String("unit_id", unit.ID))

	q.mu.Lock()
	reg := q.handlers[unit.Name]
	q.mu.Unlock()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if reg.noTimeout {
		ctx, cancel = context.WithCancel(context.Background())
	} else {
		ctx, cancel = context.WithTimeout(context.Background(), q.timeout)
	}
	defer cancel()

	start := time.Now()
	err := invoke(ctx, reg.handler, unit)
	if err != nil {
		q.setState(unit.ID, StateFailed)
		log.Error("unit failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	q.setState(unit.ID, StateDone)
	log.Info("unit done", zap.Duration("elapsed", time.Since(start)))
}

func invoke(ctx context.Context, h Handler, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, unit)
}

func (q *Queue) setState(id string, s State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.states[id] = entry{state: s, at: q.now()}
}

// pruneLocked 删除超过保留时长的已结束单元，调用方持有 mu。
func (q *Queue) pruneLocked() {
	cutoff := q.now().Add(-q.retention)
	for id, e := range q.states {
		if !e.state.Active() && e.at.Before(cutoff) {
			delete(q.states, id)
		}
	}
}
