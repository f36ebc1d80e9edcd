package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/batch"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress 上一轮扫描尚未结束。
var ErrSweepInProgress = errors.New("sweep already in progress")

// Config 调度配置。Interval 为 Go duration 或 5 段 cron 表达式，为空表示关闭。
type Config struct {
	Interval string        `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Enabled 是否配置了调度。
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Interval) != ""
}

// PostingLister 列出开启自动处理的职位。
type PostingLister interface {
	ListPostings(ctx context.Context, q storage.PostingQuery) ([]model.Posting, error)
}

// Runner 启动职位批处理。
type Runner interface {
	Start(ctx context.Context, postingID uint, recipientID *uint) (batch.Ticket, error)
}

// SweepResult 一轮扫描的统计。
type SweepResult struct {
	Postings int `json:"postings"`
	Started  int `json:"started"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Scheduler 周期性为自动处理的职位启动批处理，同一时刻只有一轮扫描。
type Scheduler struct {
	postings  PostingLister
	runner    Runner
	interval  time.Duration
	cron      *cronSchedule
	timeout   time.Duration
	logger    *zap.Logger
	running   atomic.Bool
	newTicker func(time.Duration) ticker
	now       func() time.Time
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// New 创建 Scheduler，Interval 无法解析时返回错误。
func New(postings PostingLister, runner Runner, cfg Config, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		postings:  postings,
		runner:    runner,
		timeout:   cfg.Timeout,
		logger:    logger.OrNop(log).Named("scheduler"),
		newTicker: defaultTicker,
		now:       time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Minute
	}

	spec := strings.TrimSpace(cfg.Interval)
	if spec == "" {
		return s, nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("scheduler interval must be positive, got %s", spec)
		}
		s.interval = d
		return s, nil
	}
	schedule, err := parseCron(spec)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler interval %q: %w", spec, err)
	}
	s.cron = schedule
	return s, nil
}

// Start 启动调度循环，直到上下文取消；未配置间隔时立即返回 nil。
// 单轮扫描失败只记日志，不终止循环。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.postings == nil || s.runner == nil {
		return fmt.Errorf("scheduler missing dependencies")
	}
	if s.cron == nil && s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.cron != nil {
		g.Go(func() error {
			return s.loopCron(ctx)
		})
	} else {
		g.Go(func() error {
			return s.loopTicker(ctx)
		})
	}
	return g.Wait()
}

func (s *Scheduler) loopTicker(ctx context.Context) error {
	tick := s.newTicker(s.interval)
	defer tick.Stop()
	ch := tick.C()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			s.tick(ctx)
			// 扫描期间堆积的 tick 直接丢弃。
		drain:
			for {
				select {
				case <-ch:
				default:
					break drain
				}
			}
		}
	}
}

func (s *Scheduler) loopCron(ctx context.Context) error {
	for {
		next, err := s.cron.next(s.now())
		if err != nil {
			return fmt.Errorf("compute next run: %w", err)
		}
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("sweep finished",
		zap.Int("postings", res.Postings),
		zap.Int("started", res.Started),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
}

// Sweep 执行一轮扫描。已有运行或无新文档的职位计为跳过。
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	if s.running.Swap(true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	postings, err := s.postings.ListPostings(ctx, storage.PostingQuery{AutoProcessOnly: true})
	if err != nil {
		return SweepResult{}, fmt.Errorf("list postings: %w", err)
	}

	res := SweepResult{Postings: len(postings)}
	for _, p := range postings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ticket, err := s.runner.Start(ctx, p.ID, p.RecipientID)
		switch {
		case apperr.Is(err, apperr.KindConflict), errors.Is(err, batch.ErrNoDocuments):
			res.Skipped++
		case err != nil:
			res.Failed++
			s.logger.Warn("start run failed", zap.Uint("posting_id", p.ID), zap.Error(err))
		case ticket.Total == 0:
			res.Skipped++
		default:
			res.Started++
			s.logger.Info("run started", zap.Uint("posting_id", p.ID), zap.String("run_id", ticket.RunID), zap.Int("total", ticket.Total))
		}
	}
	return res, nil
}

func defaultTicker(d time.Duration) ticker {
	return tickerWrapper{time.NewTicker(d)}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }
