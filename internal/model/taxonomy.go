package model

// SkillType 技能类别，拥有一组合法等级。
type SkillType struct {
	ID     uint         `gorm:"primaryKey" json:"id"`
	Name   string       `gorm:"not null" json:"name"`
	Levels []SkillLevel `gorm:"many2many:skill_type_levels" json:"levels,omitempty"`
}

// SkillLevel 技能等级，Progress 为百分比。
type SkillLevel struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Progress int    `json:"progress"`
}

// Skill 任一时刻只属于一个类别。
type Skill struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	SkillTypeID uint   `gorm:"index" json:"skill_type_id"`
}

// CandidateSkill 候选人与 (技能, 等级, 类别) 的关联，每个 (候选人, 技能) 至多一条。
type CandidateSkill struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CandidateID  uint       `gorm:"uniqueIndex:idx_candidate_skill;not null" json:"candidate_id"`
	SkillID      uint       `gorm:"uniqueIndex:idx_candidate_skill;not null" json:"skill_id"`
	SkillLevelID uint       `json:"skill_level_id"`
	SkillTypeID  uint       `json:"skill_type_id"`
	Skill        Skill      `gorm:"foreignKey:SkillID" json:"skill"`
	SkillLevel   SkillLevel `gorm:"foreignKey:SkillLevelID" json:"skill_level"`
	SkillType    SkillType  `gorm:"foreignKey:SkillTypeID" json:"skill_type"`
}
