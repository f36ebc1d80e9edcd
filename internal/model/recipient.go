package model

import "time"

// Recipient 通知接收人及其渠道偏好。
type Recipient struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Channel   string    `gorm:"size:16;default:email" json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// All 返回需要迁移的全部模型。
func All() []any {
	return []any{
		&Posting{},
		&Document{},
		&BatchJob{},
		&ProcessedDocument{},
		&Candidate{},
		&CandidateTag{},
		&Degree{},
		&MatchStatement{},
		&SkillType{},
		&SkillLevel{},
		&Skill{},
		&CandidateSkill{},
		&Requirement{},
		&RequirementTag{},
		&Recipient{},
	}
}
