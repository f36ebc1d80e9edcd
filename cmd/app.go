package main

import (
	"context"
	"fmt"
	"time"

	"talent-radar/internal/batch"
	"talent-radar/internal/config"
	"talent-radar/internal/export"
	"talent-radar/internal/extraction"
	"talent-radar/internal/fetcher"
	"talent-radar/internal/llm"
	"talent-radar/internal/matching"
	"talent-radar/internal/notifier"
	"talent-radar/internal/prompts"
	"talent-radar/internal/queue"
	"talent-radar/internal/recipient"
	"talent-radar/internal/requirements"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
)

// app 装配好的全部组件。
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *storage.Store
	queue        *queue.Queue
	batches      *batch.Orchestrator
	extraction   *extraction.Service
	requirements *requirements.Extractor
	engine       *matching.Engine
	exporter     *export.Exporter
	recipients   *recipient.Service
	fetcher      *fetcher.HTTPFetcher
}

// newApp 打开存储、构造服务并启动工作队列；返回的 cleanup 等待队列排空，排空后才关闭存储。
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, func(), error) {
	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	set, err := prompts.Load(cfg.Prompts.File)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("load prompts: %w", err)
	}

	client := llm.New(ctx, cfg.LLM, log)
	var email *notifier.EmailNotifier
	if cfg.Email.Enabled() {
		email = notifier.NewEmailNotifier(cfg.Email, nil)
	} else {
		log.Info("email notifier disabled: missing host/port/from")
	}
	notify := notifier.NewDispatcher(store, email, log)

	q := queue.New(cfg.Queue, log)
	extractor := extraction.NewExtractor(client, set, log)
	writer := extraction.NewWriter(nil, log)
	engine := matching.NewEngine(store, client, set, q, notify, log)

	a := &app{
		cfg:          cfg,
		logger:       log,
		store:        store,
		queue:        q,
		batches:      batch.New(store, extractor, writer, q, engine, notify, cfg.Batch, log),
		extraction:   extraction.NewService(store, extractor, writer, q, notify, log),
		requirements: requirements.NewExtractor(store, client, set, matching.Rescore, log),
		engine:       engine,
		exporter:     export.NewExporter(store, log),
		recipients:   recipient.NewService(store, cfg.Recipients),
		fetcher:      fetcher.NewHTTPFetcher(cfg.Fetcher, nil, log),
	}

	// 批处理按文档设置截止时间，整次运行不设上限。
	q.Register(batch.UnitRun, a.batches.Handle, queue.WithoutTimeout())
	q.Register(extraction.UnitExtract, a.extraction.Handle)
	q.Register(matching.UnitMatch, engine.Handle)
	q.Start()

	cleanup := func() {
		wait := cfg.Queue.Timeout
		if wait <= 0 {
			wait = 30 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		shutdownApp(sctx, q, store, log)
		_ = log.Sync()
	}
	return a, cleanup, nil
}

type drainer interface {
	Shutdown(ctx context.Context) bool
}

type closer interface {
	Close() error
}

// shutdownApp 等待队列排空后关闭存储；未排空时仍有单元在写库，保持连接打开交由进程退出回收。
// 返回存储是否已关闭。
func shutdownApp(ctx context.Context, q drainer, store closer, log *zap.Logger) bool {
	if !q.Shutdown(ctx) {
		log.Warn("queue not drained, leaving store open")
		return false
	}
	if err := store.Close(); err != nil {
		log.Warn("close store", zap.Error(err))
	}
	return true
}
