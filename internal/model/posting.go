package model

import "time"

// MatchStrategy 决定职位使用哪种匹配方式。
type MatchStrategy string

const (
	MatchSingle MatchStrategy = "single"
	MatchMulti  MatchStrategy = "multi"
)

// Valid 判断策略是否属于已知集合。
func (s MatchStrategy) Valid() bool {
	return s == MatchSingle || s == MatchMulti
}

// Posting 表示一个招聘职位
// - MatchStrategy: 单次或分类别多次匹配
// - AutoProcess: 调度器是否自动处理新简历
// - AutoMatch: 批处理成功后是否自动发起匹配
// - RecipientID: 默认通知接收人
type Posting struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	Name          string        `gorm:"not null" json:"name"`
	Description   string        `gorm:"type:text" json:"description"`
	MatchStrategy MatchStrategy `gorm:"size:16;default:single" json:"match_strategy"`
	AutoProcess   bool          `json:"auto_process"`
	AutoMatch     bool          `json:"auto_match"`
	RecipientID   *uint         `json:"recipient_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
