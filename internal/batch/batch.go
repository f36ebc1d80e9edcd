package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/extraction"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
	"talent-radar/internal/queue"
	"talent-radar/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitRun 批处理运行的工作单元名。
const UnitRun = "batch.run"

var (
	// ErrRunInProgress 职位已有运行中的批次。
	ErrRunInProgress = &apperr.Error{Kind: apperr.KindConflict, Op: "batch.start", Msg: "a run is already in progress for this posting"}
	// ErrNoDocuments 职位没有简历附件。
	ErrNoDocuments = &apperr.Error{Kind: apperr.KindInvalidInput, Op: "batch.start", Msg: "no CV documents attached"}

	errStaleRun = errors.New("run superseded by a newer run")
)

// Extractor 简历解析。
type Extractor interface {
	Validate() error
	Extract(ctx context.Context, payload document.Payload) (extraction.Result, error)
}

// Writer 将解析结果写入候选人。
type Writer interface {
	Apply(ctx context.Context, tx *storage.Store, candidateID uint, fields extraction.Fields) (extraction.Outcome, error)
}

// Queue 工作队列：提交与实时状态查询。
type Queue interface {
	Submit(unit queue.Unit) (string, error)
	Status(id string) (queue.State, bool)
	IsActive(id string) bool
}

// Matcher 为成功创建的候选人发起匹配。
type Matcher interface {
	Request(ctx context.Context, candidateIDs []uint, recipientID *uint) ([]uint, error)
}

// Config 批处理配置。
type Config struct {
	// MaxErrors 最终通知中最多列出的错误条数。
	MaxErrors int `mapstructure:"max_errors" yaml:"max_errors" json:"max_errors"`
	// DocumentTimeout 单个文档的处理时限，超时只算该文档失败。
	DocumentTimeout time.Duration `mapstructure:"document_timeout" yaml:"document_timeout" json:"document_timeout"`
}

// Ticket 启动结果。Total 为 0 表示没有新文档需要处理，未提交任何工作。
type Ticket struct {
	PostingID uint   `json:"posting_id"`
	RunID     string `json:"run_id,omitempty"`
	Total     int    `json:"total"`
}

// RunArgs 一次运行的参数。
type RunArgs struct {
	PostingID   uint
	RunID       string
	DocumentIDs []uint
	RecipientID *uint
}

// Orchestrator 驱动职位简历的批量处理：每个文档独立事务，失败互不影响。
type Orchestrator struct {
	store     *storage.Store
	extractor Extractor
	writer    Writer
	queue     Queue
	matcher   Matcher
	notifier  notifier.Notifier
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	// startMu 串行化启动与删除附件：运行标识提交后、进入队列前不能被抢占。
	startMu sync.Mutex
}

// New 创建编排器；matcher 可为 nil，表示不支持自动匹配。
func New(store *storage.Store, extractor Extractor, writer Writer, q Queue, matcher Matcher, n notifier.Notifier, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 10
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		extractor: extractor,
		writer:    writer,
		queue:     q,
		matcher:   matcher,
		notifier:  n,
		cfg:       cfg,
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

// Start 启动一次批处理运行。配置缺失时在处理任何文档之前失败；
// 已有运行时立即返回 ErrRunInProgress，不排队等待。
// 批处理记录先提交再入队，工作协程读到的总是新的 RunID。
func (o *Orchestrator) Start(ctx context.Context, postingID uint, recipientID *uint) (Ticket, error) {
	const op = "batch.start"
	if err := o.extractor.Validate(); err != nil {
		return Ticket{}, err
	}

	posting, err := o.store.GetPosting(ctx, postingID)
	if err != nil {
		return Ticket{}, lookupError(op, err)
	}
	if recipientID == nil {
		recipientID = posting.RecipientID
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	ticket := Ticket{PostingID: postingID}
	var (
		batchID uint
		pending []uint
	)
	err = o.store.Transaction(ctx, func(tx *storage.Store) error {
		batch, err := tx.LockBatch(ctx, postingID, storage.LockNoWait)
		if errors.Is(err, storage.ErrLocked) {
			return ErrRunInProgress
		}
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if o.queue.IsActive(batch.RunID) {
			return ErrRunInProgress
		}

		count, err := tx.CountPostingDocuments(ctx, postingID, model.DocumentCV)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if count == 0 {
			return ErrNoDocuments
		}
		pending, err = tx.PendingDocumentIDs(ctx, postingID, batch.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if len(pending) == 0 {
			return nil
		}

		runID := uuid.NewString()
		if err := tx.ResetBatch(ctx, batch.ID, runID, len(pending), o.now()); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		batchID = batch.ID
		ticket.RunID = runID
		ticket.Total = len(pending)
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	if ticket.Total == 0 {
		o.logger.Info("no new documents to process", zap.Uint("posting_id", postingID))
		return ticket, nil
	}

	if _, err := o.queue.Submit(queue.Unit{
		ID:   ticket.RunID,
		Name: UnitRun,
		Args: RunArgs{PostingID: postingID, RunID: ticket.RunID, DocumentIDs: pending, RecipientID: recipientID},
	}); err != nil {
		o.abandon(ctx, batchID, ticket.RunID)
		return Ticket{}, apperr.Wrap(apperr.KindConflict, op, err)
	}
	o.logger.Info("batch run queued", zap.Uint("posting_id", postingID), zap.String("run_id", ticket.RunID), zap.Int("total", ticket.Total))
	return ticket, nil
}

// abandon 入队失败时撤销已提交的运行标识。
func (o *Orchestrator) abandon(ctx context.Context, batchID uint, runID string) {
	if err := o.store.AbandonRun(context.WithoutCancel(ctx), batchID, runID); err != nil {
		o.logger.Error("abandon unqueued run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Handle 队列处理器入口。
func (o *Orchestrator) Handle(ctx context.Context, unit queue.Unit) error {
	args, ok := unit.Args.(RunArgs)
	if !ok {
		return fmt.Errorf("handle %s: unexpected args %T", unit.Name, unit.Args)
	}
	return o.Run(ctx, args)
}

// Summary 一次运行的结果汇总。
type Summary struct {
	Created    []uint
	Failed     int
	Errors     []model.RunError
	Critical   bool
	Superseded bool
}

// Run 顺序处理文档，每个文档一个事务并有独立时限；单个文档失败只记录，不中断批次。
// 计数、终态与通知使用不随 ctx 取消的上下文写入，结束时总会发送一条最终通知。
func (o *Orchestrator) Run(ctx context.Context, args RunArgs) error {
	log := o.logger.With(zap.Uint("posting_id", args.PostingID), zap.String("run_id", args.RunID))
	book := context.WithoutCancel(ctx)

	batch, err := o.store.GetBatch(book, args.PostingID)
	if err != nil {
		log.Error("load batch job failed", zap.Error(err))
		sum := Summary{Critical: true, Errors: []model.RunError{{DocumentName: "run", Kind: string(apperr.KindPersistence), Message: err.Error()}}}
		o.notify(book, args.RecipientID, o.message(unknownPosting(args.PostingID), sum), log)
		return fmt.Errorf("load batch job: %w", err)
	}
	// 记录已归属更新的运行或被清空，由当前持有者负责计数与通知。
	if batch.RunID != args.RunID {
		log.Warn("stale run skipped", zap.String("current_run_id", batch.RunID))
		return nil
	}

	// 职位读取失败时每个文档都按失败登记，计数仍然闭合。
	var loadErr error
	posting, err := o.store.GetPosting(book, args.PostingID)
	if err != nil {
		log.Error("load posting failed", zap.Error(err))
		loadErr = lookupError("batch.run", err)
		posting = unknownPosting(args.PostingID)
	}

	var sum Summary
	for _, docID := range args.DocumentIDs {
		docLog := log.With(zap.Uint("document_id", docID))
		var (
			candidateID uint
			name        = fmt.Sprintf("document #%d", docID)
		)
		err := loadErr
		if err == nil {
			candidateID, name, err = o.processDocument(ctx, posting, args.RunID, docID)
		}
		if errors.Is(err, errStaleRun) {
			docLog.Warn("run superseded, stopping")
			sum.Superseded = true
			break
		}
		if err != nil {
			docLog.Error("document failed", zap.String("document", name), zap.Error(err))
			runErr := model.RunError{DocumentID: docID, DocumentName: name, Kind: string(apperr.KindOf(err)), Message: err.Error()}
			sum.Failed++
			sum.Errors = append(sum.Errors, runErr)
			o.recordFailure(book, args, runErr, docLog)
			continue
		}
		docLog.Info("document processed", zap.String("document", name), zap.Uint("candidate_id", candidateID))
		sum.Created = append(sum.Created, candidateID)
	}

	if !sum.Superseded {
		if err := o.finish(book, args, sum.Failed > 0); err != nil {
			log.Error("finalize run failed", zap.Error(err))
			sum.Critical = true
			sum.Errors = append(sum.Errors, model.RunError{DocumentName: "run", Kind: string(apperr.KindPersistence), Message: err.Error()})
		}
	}

	o.notify(book, args.RecipientID, o.message(posting, sum), log)
	if loadErr == nil {
		o.autoMatch(book, posting, sum.Created, args.RecipientID, log)
	}
	return nil
}

func unknownPosting(id uint) *model.Posting {
	return &model.Posting{ID: id, Name: fmt.Sprintf("#%d", id)}
}

// processDocument 读取文档并调用服务（事务外），随后在单个事务内创建候选人并计数。
// 整个过程受 DocumentTimeout 限制。
func (o *Orchestrator) processDocument(ctx context.Context, posting *model.Posting, runID string, docID uint) (uint, string, error) {
	const op = "batch.process_document"
	name := fmt.Sprintf("document #%d", docID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DocumentTimeout)
	defer cancel()

	doc, err := o.store.GetDocument(ctx, docID)
	if err != nil {
		return 0, name, lookupError(op, err)
	}
	name = doc.Name

	res, err := o.extractor.Extract(ctx, document.Payload{Name: doc.Name, MIMEType: doc.MIMEType, Data: doc.Data})
	if errors.Is(err, context.DeadlineExceeded) && apperr.KindOf(err) == apperr.KindUnknown {
		return 0, name, apperr.Wrap(apperr.KindExternalService, op, fmt.Errorf("document timed out after %s: %w", o.cfg.DocumentTimeout, err))
	}
	if err != nil {
		return 0, name, err
	}

	var candidateID uint
	err = o.store.Transaction(ctx, func(tx *storage.Store) error {
		applicant := res.Fields.Name
		if applicant == "" {
			applicant = document.BaseName(doc.Name)
		}
		cand := &model.Candidate{
			PostingID:     posting.ID,
			Title:         extraction.Title(applicant),
			Name:          applicant,
			ExtractState:  model.ExtractDone,
			ExtractStatus: "Created from bulk import. Processing data...",
		}
		if err := tx.CreateCandidate(ctx, cand); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}

		copied := &model.Document{
			CandidateID: &cand.ID,
			Kind:        model.DocumentCV,
			Name:        doc.Name,
			MIMEType:    doc.MIMEType,
			SourceURL:   doc.SourceURL,
			Data:        doc.Data,
		}
		if err := tx.CreateDocument(ctx, copied); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}

		outcome, err := o.writer.Apply(ctx, tx, cand.ID, res.Fields)
		if err != nil {
			return err
		}
		if err := tx.UpdateCandidate(ctx, cand.ID, map[string]any{
			"document_id":    copied.ID,
			"extract_status": "Created from bulk import. " + outcome.Message,
			"extract_trace":  extraction.Trace(doc.Name, res),
		}); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}

		batch, err := tx.LockBatch(ctx, posting.ID, storage.LockWait)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if batch.RunID != runID {
			return errStaleRun
		}
		if err := tx.MarkProcessed(ctx, batch.ID, docID); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		candidateID = cand.ID
		return nil
	})
	if err != nil {
		return 0, name, err
	}
	return candidateID, name, nil
}

// recordFailure 在独立事务中登记失败；失败时再尝试一次，仍失败只记日志。
func (o *Orchestrator) recordFailure(ctx context.Context, args RunArgs, runErr model.RunError, log *zap.Logger) {
	write := func() error {
		return o.store.Transaction(ctx, func(tx *storage.Store) error {
			batch, err := tx.LockBatch(ctx, args.PostingID, storage.LockWait)
			if err != nil {
				return err
			}
			if batch.RunID != args.RunID {
				return errStaleRun
			}
			return tx.RecordFailure(ctx, batch, runErr)
		})
	}
	err := write()
	if err == nil || errors.Is(err, errStaleRun) {
		return
	}
	log.Warn("record failure failed, retrying", zap.Error(err))
	if err := write(); err != nil && !errors.Is(err, errStaleRun) {
		log.Error("failsafe failure record failed", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, args RunArgs, failed bool) error {
	return o.store.Transaction(ctx, func(tx *storage.Store) error {
		batch, err := tx.LockBatch(ctx, args.PostingID, storage.LockWait)
		if err != nil {
			return err
		}
		if batch.RunID != args.RunID {
			return errStaleRun
		}
		return tx.FinishBatch(ctx, batch.ID, failed || batch.Failed > 0, o.now())
	})
}

func (o *Orchestrator) notify(ctx context.Context, recipientID *uint, msg notifier.Message, log *zap.Logger) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, recipientID, msg); err != nil {
		log.Warn("send notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) autoMatch(ctx context.Context, posting *model.Posting, created []uint, recipientID *uint, log *zap.Logger) {
	if !posting.AutoMatch || o.matcher == nil || len(created) == 0 {
		return
	}
	reqs, err := o.store.ListRequirements(ctx, posting.ID)
	if err != nil {
		log.Warn("auto match skipped", zap.Error(err))
		return
	}
	if len(reqs) == 0 {
		log.Info("auto match skipped, posting has no requirements")
		return
	}
	queued, err := o.matcher.Request(ctx, created, recipientID)
	if err != nil {
		log.Warn("auto match request failed", zap.Int("queued", len(queued)), zap.Error(err))
		return
	}
	log.Info("auto match queued", zap.Int("candidates", len(queued)))
}

func lookupError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindPersistence, op, err)
}
