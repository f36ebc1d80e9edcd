package model

import (
	"time"

	"gorm.io/datatypes"
)

// ExtractState 候选人解析状态机。
type ExtractState string

const (
	ExtractNotStarted ExtractState = "not_started"
	ExtractPending    ExtractState = "pending"
	ExtractProcessing ExtractState = "processing"
	ExtractDone       ExtractState = "done"
	ExtractError      ExtractState = "error"
)

// Candidate 表示一份申请及其结构化资料。
type Candidate struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	PostingID     uint              `gorm:"index;not null" json:"posting_id"`
	DocumentID    *uint             `json:"document_id,omitempty"`
	Title         string            `json:"title"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	ProfileLink   string            `json:"profile_link"`
	DegreeID      *uint             `json:"degree_id,omitempty"`
	Degree        *Degree           `gorm:"foreignKey:DegreeID" json:"degree,omitempty"`
	ExtractState  ExtractState      `gorm:"size:16;default:not_started;index" json:"extract_state"`
	ExtractStatus string            `gorm:"type:text" json:"extract_status"`
	ExtractTrace  datatypes.JSONMap `json:"extract_trace,omitempty"`
	// ExtractUnitID 最近一次解析所排队的工作单元。
	ExtractUnitID   string         `gorm:"size:64" json:"extract_unit_id,omitempty"`
	MatchPercentage float64        `json:"match_percentage"`
	OverallFit      string         `gorm:"type:text" json:"overall_fit"`
	KeyStrengths    string         `gorm:"type:text" json:"key_strengths"`
	MissingGaps     string         `gorm:"type:text" json:"missing_gaps"`
	MatchedAt       *time.Time     `json:"matched_at,omitempty"`
	Tags            []CandidateTag `gorm:"many2many:candidate_tag_links" json:"tags,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CandidateTag 候选人标签，匹配分档也以标签形式保存。
type CandidateTag struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Degree 学位字典。
type Degree struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
}

// MatchStatement 候选人对单条要求的评估。
type MatchStatement struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CandidateID   uint      `gorm:"index;not null" json:"candidate_id"`
	RequirementID uint      `gorm:"index;not null" json:"requirement_id"`
	Fit           string    `gorm:"size:16" json:"fit"`
	Score         float64   `json:"score"`
	Explanation   string    `gorm:"type:text" json:"explanation"`
	CreatedAt     time.Time `json:"created_at"`
}
