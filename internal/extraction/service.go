package extraction

import (
	"context"
	"errors"
	"fmt"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
	"talent-radar/internal/queue"
	"talent-radar/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// UnitExtract 单个候选人解析的工作单元名。
const UnitExtract = "candidate.extract"

const (
	statusQueued     = "Queued for extraction"
	statusProcessing = "Processing..."
	traceRawLimit    = 2000
)

var requestable = []model.ExtractState{model.ExtractNotStarted, model.ExtractError, model.ExtractDone}

// Submitter 工作队列：提交与实时状态查询。
type Submitter interface {
	Submit(unit queue.Unit) (string, error)
	IsActive(id string) bool
}

// Args 单个候选人解析参数。
type Args struct {
	CandidateID uint
	RecipientID *uint
}

// Service 负责候选人的异步解析：排队、执行、写入与通知。
type Service struct {
	store     *storage.Store
	extractor *Extractor
	writer    *Writer
	queue     Submitter
	notifier  notifier.Notifier
	logger    *zap.Logger
}

// NewService 创建服务。
func NewService(store *storage.Store, extractor *Extractor, writer *Writer, q Submitter, n notifier.Notifier, log *zap.Logger) *Service {
	return &Service{store: store, extractor: extractor, writer: writer, queue: q, notifier: n, logger: logger.OrNop(log)}
}

// Request 将符合条件的候选人置为 pending 并逐个排队，返回已排队的 ID。
func (s *Service) Request(ctx context.Context, candidateIDs []uint, recipientID *uint) ([]uint, error) {
	const op = "extraction.request"
	if err := s.extractor.Validate(); err != nil {
		return nil, err
	}

	queued := make([]uint, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		log := s.logger.With(zap.Uint("candidate_id", id))
		cand, err := s.store.GetCandidate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("candidate not found, skipped")
			continue
		}
		if err != nil {
			return queued, apperr.Wrap(apperr.KindPersistence, op, err)
		}

		// pending/processing 只有在工作单元已不在队列中（如进程重启）时才允许重新排队。
		from, prevUnit := requestable, (*string)(nil)
		if cand.ExtractState == model.ExtractPending || cand.ExtractState == model.ExtractProcessing {
			if s.queue.IsActive(cand.ExtractUnitID) {
				log.Info("candidate extraction in flight, skipped", zap.String("unit_id", cand.ExtractUnitID))
				continue
			}
			from, prevUnit = []model.ExtractState{cand.ExtractState}, &cand.ExtractUnitID
			log.Warn("requeueing orphaned extraction", zap.String("state", string(cand.ExtractState)), zap.String("unit_id", cand.ExtractUnitID))
		}

		unitID := uuid.NewString()
		ok, err := s.store.QueueExtraction(ctx, id, from, prevUnit, unitID, statusQueued)
		if err != nil {
			return queued, apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if !ok {
			log.Info("candidate not eligible for extraction")
			continue
		}
		if _, err := s.queue.Submit(queue.Unit{ID: unitID, Name: UnitExtract, Args: Args{CandidateID: id, RecipientID: recipientID}}); err != nil {
			msg := "Error: " + err.Error()
			if _, rerr := s.store.TransitionExtractState(ctx, id, []model.ExtractState{model.ExtractPending}, model.ExtractError, msg); rerr != nil {
				log.Error("revert queued candidate failed", zap.Error(rerr))
			}
			return queued, apperr.Wrap(apperr.KindConflict, op, err)
		}
		queued = append(queued, id)
	}
	if len(queued) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, op, "no candidates eligible for extraction")
	}
	return queued, nil
}

// Handle 队列处理器入口。
func (s *Service) Handle(ctx context.Context, unit queue.Unit) error {
	args, ok := unit.Args.(Args)
	if !ok {
		return fmt.Errorf("handle %s: unexpected args %T", unit.Name, unit.Args)
	}
	return s.Run(ctx, args)
}

// Run 解析单个候选人。只处理 pending 状态的候选人，其余情况直接跳过。
func (s *Service) Run(ctx context.Context, args Args) error {
	log := s.logger.With(zap.Uint("candidate_id", args.CandidateID))

	ok, err := s.store.TransitionExtractState(ctx, args.CandidateID, []model.ExtractState{model.ExtractPending}, model.ExtractProcessing, statusProcessing)
	if err != nil {
		return fmt.Errorf("claim candidate: %w", err)
	}
	if !ok {
		log.Info("candidate no longer pending, skipped")
		return nil
	}

	cand, outcome, err := s.process(ctx, args.CandidateID)
	if err != nil {
		log.Error("extraction failed", zap.Error(err))
		msg := "Error: " + err.Error()
		if uerr := s.store.UpdateCandidate(ctx, args.CandidateID, map[string]any{
			"extract_state":  model.ExtractError,
			"extract_status": msg,
		}); uerr != nil {
			log.Error("record extraction error failed", zap.Error(uerr))
		}
		s.notify(ctx, args.RecipientID, notifier.Message{
			Title: "CV extraction failed",
			Body:  fmt.Sprintf("Candidate #%d: %s", args.CandidateID, msg),
			Level: notifier.LevelWarning,
		})
		return err
	}

	level := notifier.LevelSuccess
	if outcome.Partial {
		level = notifier.LevelWarning
	}
	s.notify(ctx, args.RecipientID, notifier.Message{
		Title: "CV extraction complete",
		Body:  fmt.Sprintf("Successfully extracted CV data for applicant '%s'. %s", cand.Title, outcome.Message),
		Level: level,
	})
	return nil
}

func (s *Service) process(ctx context.Context, candidateID uint) (*model.Candidate, Outcome, error) {
	const op = "extraction.run"
	cand, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, Outcome{}, apperr.Wrap(apperr.KindNotFound, op, err)
	}
	if cand.DocumentID == nil {
		return nil, Outcome{}, apperr.New(apperr.KindInvalidInput, op, "candidate has no CV document")
	}
	doc, err := s.store.GetDocument(ctx, *cand.DocumentID)
	if err != nil {
		return nil, Outcome{}, apperr.Wrap(apperr.KindNotFound, op, err)
	}

	result, err := s.extractor.Extract(ctx, document.Payload{Name: doc.Name, MIMEType: doc.MIMEType, Data: doc.Data})
	if err != nil {
		return nil, Outcome{}, err
	}

	var outcome Outcome
	err = s.store.Transaction(ctx, func(tx *storage.Store) error {
		var err error
		outcome, err = s.writer.Apply(ctx, tx, candidateID, result.Fields)
		if err != nil {
			return err
		}
		return tx.UpdateCandidate(ctx, candidateID, map[string]any{
			"extract_state":  model.ExtractDone,
			"extract_status": outcome.Message,
			"extract_trace":  Trace(doc.Name, result),
		})
	})
	if err != nil {
		return nil, Outcome{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	updated, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return cand, outcome, nil
	}
	return updated, outcome, nil
}

func (s *Service) notify(ctx context.Context, recipientID *uint, msg notifier.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, recipientID, msg); err != nil {
		s.logger.Warn("send notification failed", zap.Error(err))
	}
}

// Trace 保存解析诊断信息，原始响应会被截断。
func Trace(documentName string, result Result) datatypes.JSONMap {
	return datatypes.JSONMap{
		"document": documentName,
		"skills":   len(result.Fields.Skills),
		"raw":      logger.TruncateForLog(result.Raw, traceRawLimit),
	}
}
