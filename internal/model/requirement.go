package model

import (
	"time"

	"gorm.io/datatypes"
)

// Requirement 职位的一条要求，权重必须为正。
type Requirement struct {
	ID                    uint                        `gorm:"primaryKey" json:"id"`
	PostingID             uint                        `gorm:"index;not null" json:"posting_id"`
	Text                  string                      `gorm:"type:text;not null" json:"text"`
	Sequence              int                         `json:"sequence"`
	Weight                float64                     `gorm:"default:1;check:weight > 0" json:"weight"`
	Tags                  []RequirementTag            `gorm:"many2many:requirement_tag_links" json:"tags,omitempty"`
	RelevantOrganizations datatypes.JSONSlice[string] `json:"relevant_organizations,omitempty"`
	CreatedAt             time.Time                   `json:"created_at"`
}

// RequirementTag 要求分类标签，名称唯一。
type RequirementTag struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// TagNames 返回标签名称列表。
func (r Requirement) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for _, tag := range r.Tags {
		names = append(names, tag.Name)
	}
	return names
}
