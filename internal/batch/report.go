package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
)

const (
	titleComplete   = "CV processing complete"
	titleWithErrors = "CV processing finished with errors"
)

// message 生成最终通知，错误列表截断到 MaxErrors 条。
func (o *Orchestrator) message(posting *model.Posting, sum Summary) notifier.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "CV processing finished for posting '%s'.\n", posting.Name)
	fmt.Fprintf(&b, "%d applicants created.\n%d failed.", len(sum.Created), sum.Failed)
	if sum.Superseded {
		b.WriteString("\nThe run was superseded by a newer run.")
	}
	if len(sum.Errors) > 0 {
		b.WriteString("\nErrors:")
		for i, e := range sum.Errors {
			if i == o.cfg.MaxErrors {
				fmt.Fprintf(&b, "\n... and %d more", len(sum.Errors)-o.cfg.MaxErrors)
				break
			}
			fmt.Fprintf(&b, "\n- %s: %s", e.DocumentName, e.Message)
		}
	}

	msg := notifier.Message{Title: titleComplete, Body: b.String(), Level: notifier.LevelSuccess}
	if sum.Failed > 0 || sum.Critical || sum.Superseded {
		msg.Title = titleWithErrors
		msg.Level = notifier.LevelWarning
	}
	return msg
}

// StateIdle 工作队列中没有该运行；其余状态与工作队列一致。
const StateIdle = "idle"

// Progress 可随时读取的批处理进度。
type Progress struct {
	PostingID          uint             `json:"posting_id"`
	RunID              string           `json:"run_id,omitempty"`
	State              string           `json:"state"`
	Total              int              `json:"total"`
	Processed          int              `json:"processed"`
	Failed             int              `json:"failed"`
	Percent            int              `json:"percent"`
	ProcessingComplete bool             `json:"processing_complete"`
	ProcessingFailed   bool             `json:"processing_failed"`
	Errors             []model.RunError `json:"errors"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	FinishedAt         *time.Time       `json:"finished_at,omitempty"`
}

// Active 是否仍在排队或执行。
func (p Progress) Active() bool {
	return p.State == "pending" || p.State == "running"
}

// Progress 读取计数器；运行状态只来自工作队列的实时查询。
func (o *Orchestrator) Progress(ctx context.Context, postingID uint) (Progress, error) {
	const op = "batch.progress"
	if _, err := o.store.GetPosting(ctx, postingID); err != nil {
		return Progress{}, lookupError(op, err)
	}
	batch, err := o.store.GetBatch(ctx, postingID)
	if errors.Is(err, storage.ErrNotFound) {
		return Progress{PostingID: postingID, State: StateIdle, Errors: []model.RunError{}}, nil
	}
	if err != nil {
		return Progress{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	p := Progress{
		PostingID:          postingID,
		RunID:              batch.RunID,
		State:              StateIdle,
		Total:              batch.Total,
		Processed:          batch.Processed,
		Failed:             batch.Failed,
		ProcessingComplete: batch.ProcessingComplete,
		ProcessingFailed:   batch.ProcessingFailed,
		Errors:             append([]model.RunError{}, batch.Errors...),
		StartedAt:          batch.StartedAt,
		FinishedAt:         batch.FinishedAt,
	}
	if batch.Total > 0 {
		p.Percent = (batch.Processed + batch.Failed) * 100 / batch.Total
	}
	if batch.RunID != "" {
		if s, ok := o.queue.Status(batch.RunID); ok {
			p.State = string(s)
		}
	}
	return p, nil
}

// DeleteAttachments 删除职位简历附件并清空批处理记录；运行中拒绝。
func (o *Orchestrator) DeleteAttachments(ctx context.Context, postingID uint) (int64, error) {
	const op = "batch.delete_attachments"
	if _, err := o.store.GetPosting(ctx, postingID); err != nil {
		return 0, lookupError(op, err)
	}
	o.startMu.Lock()
	defer o.startMu.Unlock()

	var deleted int64
	err := o.store.Transaction(ctx, func(tx *storage.Store) error {
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
		deleted, err = tx.DeletePostingDocuments(ctx, postingID, model.DocumentCV)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if err := tx.ClearBatch(ctx, batch.ID); err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.logger.Info("attachments deleted", zap.Uint("posting_id", postingID), zap.Int64("documents", deleted))
	return deleted, nil
}
