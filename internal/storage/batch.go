package storage

import (
	"context"
	"fmt"
	"time"

	"talent-radar/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockMode 控制行锁是否等待。
type LockMode int

const (
	// LockWait 阻塞等待行锁，用于计数器更新。
	LockWait LockMode = iota
	// LockNoWait 行锁被占用时立即返回 ErrLocked，用于启动检查。
	LockNoWait
)

// LockBatch 在当前事务中对职位的批处理记录加排他行锁，不存在时先创建。
// sqlite 不支持行锁，驱动会忽略 FOR UPDATE，写事务本身已串行。
func (s *Store) LockBatch(ctx context.Context, postingID uint, mode LockMode) (*model.BatchJob, error) {
	locking := clause.Locking{Strength: "UPDATE"}
	if mode == LockNoWait {
		locking.Options = "NOWAIT"
	}

	var batch model.BatchJob
	err := s.conn(ctx).Clauses(locking).Where("posting_id = ?", postingID).First(&batch).Error
	if notFound(err) {
		created := model.BatchJob{PostingID: postingID}
		if err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
			return nil, fmt.Errorf("create batch job: %w", err)
		}
		err = s.conn(ctx).Clauses(locking).Where("posting_id = ?", postingID).First(&batch).Error
	}
	if err != nil {
		if lockUnavailable(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock batch job: %w", err)
	}
	return &batch, nil
}

// GetBatch 读取职位的批处理记录（不加锁）。
func (s *Store) GetBatch(ctx context.Context, postingID uint) (*model.BatchJob, error) {
	var batch model.BatchJob
	if err := s.conn(ctx).Where("posting_id = ?", postingID).First(&batch).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch job: %w", err)
	}
	return &batch, nil
}

// PendingDocumentIDs 返回职位简历附件中尚未被成功处理的文档 ID。
func (s *Store) PendingDocumentIDs(ctx context.Context, postingID, batchID uint) ([]uint, error) {
	processed := s.conn(ctx).Model(&model.ProcessedDocument{}).Select("document_id").Where("batch_job_id = ?", batchID)

	var ids []uint
	if err := s.conn(ctx).Model(&model.Document{}).
		Where("posting_id = ? AND kind = ?", postingID, model.DocumentCV).
		Where("id NOT IN (?)", processed).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	return ids, nil
}

// ProcessedDocumentIDs 返回已处理文档 ID。
func (s *Store) ProcessedDocumentIDs(ctx context.Context, batchID uint) ([]uint, error) {
	var ids []uint
	if err := s.conn(ctx).Model(&model.ProcessedDocument{}).
		Where("batch_job_id = ?", batchID).
		Order("document_id ASC").
		Pluck("document_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list processed documents: %w", err)
	}
	return ids, nil
}

// ResetBatch 为新批次重置计数器，total 在本批次内固定。
func (s *Store) ResetBatch(ctx context.Context, batchID uint, runID string, total int, now time.Time) error {
	values := map[string]any{
		"run_id":              runID,
		"total":               total,
		"processed":           0,
		"failed":              0,
		"processing_complete": false,
		"processing_failed":   false,
		"errors":              datatypes.JSONSlice[model.RunError]{},
		"started_at":          now,
		"finished_at":         nil,
	}
	tx := s.conn(ctx).Model(&model.BatchJob{}).Where("id = ?", batchID).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("reset batch job: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("reset batch job: id %d not found", batchID)
	}
	return nil
}

// AbandonRun 撤销尚未提交到队列的运行：仅当 run_id 仍为 runID 时清空运行标识与 total，已处理集合保留。
func (s *Store) AbandonRun(ctx context.Context, batchID uint, runID string) error {
	tx := s.conn(ctx).Model(&model.BatchJob{}).
		Where("id = ? AND run_id = ?", batchID, runID).
		Updates(map[string]any{
			"run_id":     "",
			"total":      0,
			"started_at": nil,
		})
	if tx.Error != nil {
		return fmt.Errorf("abandon run: %w", tx.Error)
	}
	return nil
}

// MarkProcessed processed 加一并登记文档，计数已满时返回错误。
func (s *Store) MarkProcessed(ctx context.Context, batchID, documentID uint) error {
	tx := s.conn(ctx).Model(&model.BatchJob{}).
		Where("id = ? AND processed + failed < total", batchID).
		Update("processed", gorm.Expr("processed + ?", 1))
	if tx.Error != nil {
		return fmt.Errorf("increment processed: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("increment processed: counters exhausted for batch %d", batchID)
	}

	row := model.ProcessedDocument{BatchJobID: batchID, DocumentID: documentID}
	if err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("record processed document: %w", err)
	}
	return nil
}

// RecordFailure failed 加一并追加错误记录，batch 须为当前事务中已加锁的记录。
func (s *Store) RecordFailure(ctx context.Context, batch *model.BatchJob, runErr model.RunError) error {
	errs := make(datatypes.JSONSlice[model.RunError], 0, len(batch.Errors)+1)
	errs = append(errs, batch.Errors...)
	errs = append(errs, runErr)

	tx := s.conn(ctx).Model(&model.BatchJob{}).
		Where("id = ? AND processed + failed < total", batch.ID).
		Updates(map[string]any{
			"failed": gorm.Expr("failed + ?", 1),
			"errors": errs,
		})
	if tx.Error != nil {
		return fmt.Errorf("record failure: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("record failure: counters exhausted for batch %d", batch.ID)
	}
	batch.Failed++
	batch.Errors = errs
	return nil
}

// FinishBatch 写入终态标记。
func (s *Store) FinishBatch(ctx context.Context, batchID uint, failed bool, now time.Time) error {
	tx := s.conn(ctx).Model(&model.BatchJob{}).Where("id = ?", batchID).Updates(map[string]any{
		"processing_complete": true,
		"processing_failed":   failed,
		"finished_at":         now,
	})
	if tx.Error != nil {
		return fmt.Errorf("finish batch job: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("finish batch job: id %d not found", batchID)
	}
	return nil
}

// ClearBatch 清空已处理集合、计数器、终态与运行标识。
func (s *Store) ClearBatch(ctx context.Context, batchID uint) error {
	if err := s.conn(ctx).Where("batch_job_id = ?", batchID).Delete(&model.ProcessedDocument{}).Error; err != nil {
		return fmt.Errorf("clear processed documents: %w", err)
	}
	tx := s.conn(ctx).Model(&model.BatchJob{}).Where("id = ?", batchID).Updates(map[string]any{
		"run_id":              "",
		"total":               0,
		"processed":           0,
		"failed":              0,
		"processing_complete": false,
		"processing_failed":   false,
		"errors":              datatypes.JSONSlice[model.RunError]{},
		"started_at":          nil,
		"finished_at":         nil,
	})
	if tx.Error != nil {
		return fmt.Errorf("clear batch job: %w", tx.Error)
	}
	return nil
}
