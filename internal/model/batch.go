package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunError 记录单个文档失败的原因。
type RunError struct {
	DocumentID   uint   `json:"document_id"`
	DocumentName string `json:"document_name"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// BatchJob 每个职位一条，记录当前批次的进度。
// 不变量：Processed + Failed <= Total。
type BatchJob struct {
	ID                 uint                          `gorm:"primaryKey" json:"id"`
	PostingID          uint                          `gorm:"uniqueIndex;not null" json:"posting_id"`
	RunID              string                        `gorm:"size:64;index" json:"run_id"`
	Total              int                           `json:"total"`
	Processed          int                           `json:"processed"`
	Failed             int                           `json:"failed"`
	ProcessingComplete bool                          `json:"processing_complete"`
	ProcessingFailed   bool                          `json:"processing_failed"`
	Errors             datatypes.JSONSlice[RunError] `json:"errors"`
	StartedAt          *time.Time                    `json:"started_at,omitempty"`
	FinishedAt         *time.Time                    `json:"finished_at,omitempty"`
	UpdatedAt          time.Time                     `json:"updated_at"`
}

// ProcessedDocument 标记某文档已被批处理成功消费。
type ProcessedDocument struct {
	BatchJobID uint `gorm:"primaryKey"`
	DocumentID uint `gorm:"primaryKey"`
	CreatedAt  time.Time
}
