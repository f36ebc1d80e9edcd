package model

import "time"

// DocumentKind 区分简历与职位描述。
type DocumentKind string

const (
	DocumentCV             DocumentKind = "cv"
	DocumentJobDescription DocumentKind = "job_description"
)

// Document 保存上传或抓取的原始文件。
// 职位附件 PostingID 非空；处理后复制给候选人的副本 CandidateID 非空。
type Document struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	PostingID   *uint        `gorm:"index" json:"posting_id,omitempty"`
	CandidateID *uint        `gorm:"index" json:"candidate_id,omitempty"`
	Kind        DocumentKind `gorm:"size:32;index" json:"kind"`
	Name        string       `json:"name"`
	MIMEType    string       `json:"mime_type"`
	SourceURL   string       `json:"source_url,omitempty"`
	Size        int64        `json:"size"`
	Data        []byte       `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}
