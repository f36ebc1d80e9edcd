package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"

	"gorm.io/gorm/clause"
)

// FindSkillType 大小写不敏感查找技能类别，未找到返回 ErrNotFound。
func (s *Store) FindSkillType(ctx context.Context, name string) (*model.SkillType, error) {
	var st model.SkillType
	if err := s.conn(ctx).Where("LOWER(name) = LOWER(?)", name).Order("id ASC").First(&st).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find skill type: %w", err)
	}
	return &st, nil
}

// CreateSkillType 新增技能类别。
func (s *Store) CreateSkillType(ctx context.Context, st *model.SkillType) error {
	if err := s.conn(ctx).Omit(clause.Associations).Create(st).Error; err != nil {
		return fmt.Errorf("create skill type: %w", err)
	}
	return nil
}

// FindSkillLevel 按名称（大小写不敏感）查找等级；progress 非空时要求进度完全一致。
func (s *Store) FindSkillLevel(ctx context.Context, name string, progress *int) (*model.SkillLevel, error) {
	query := s.conn(ctx).Where("LOWER(name) = LOWER(?)", name)
	if progress != nil {
		query = query.Where("progress = ?", *progress)
	}
	var level model.SkillLevel
	if err := query.Order("id ASC").First(&level).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find skill level: %w", err)
	}
	return &level, nil
}

// LowestPositiveSkillLevel 返回进度大于 0 的最低等级。
func (s *Store) LowestPositiveSkillLevel(ctx context.Context) (*model.SkillLevel, error) {
	var level model.SkillLevel
	if err := s.conn(ctx).Where("progress > 0").Order("progress ASC, id ASC").First(&level).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find lowest skill level: %w", err)
	}
	return &level, nil
}

// CreateSkillLevel 新增等级。
func (s *Store) CreateSkillLevel(ctx context.Context, level *model.SkillLevel) error {
	if err := s.conn(ctx).Create(level).Error; err != nil {
		return fmt.Errorf("create skill level: %w", err)
	}
	return nil
}

// HasTypeLevel 判断等级是否已登记在类别下。
func (s *Store) HasTypeLevel(ctx context.Context, typeID, levelID uint) (bool, error) {
	var count int64
	if err := s.conn(ctx).Table("skill_type_levels").
		Where("skill_type_id = ? AND skill_level_id = ?", typeID, levelID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check type level: %w", err)
	}
	return count > 0, nil
}

// AddTypeLevel 将等级登记到类别下。
func (s *Store) AddTypeLevel(ctx context.Context, typeID uint, level *model.SkillLevel) error {
	st := model.SkillType{ID: typeID}
	if err := s.conn(ctx).Model(&st).Association("Levels").Append(level); err != nil {
		return fmt.Errorf("add type level: %w", err)
	}
	return nil
}

// FindSkill 大小写不敏感查找技能。
func (s *Store) FindSkill(ctx context.Context, name string) (*model.Skill, error) {
	var skill model.Skill
	if err := s.conn(ctx).Where("LOWER(name) = LOWER(?)", name).Order("id ASC").First(&skill).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find skill: %w", err)
	}
	return &skill, nil
}

// CreateSkill 新增技能。
func (s *Store) CreateSkill(ctx context.Context, skill *model.Skill) error {
	if err := s.conn(ctx).Create(skill).Error; err != nil {
		return fmt.Errorf("create skill: %w", err)
	}
	return nil
}

// SetSkillType 修改技能所属类别。
func (s *Store) SetSkillType(ctx context.Context, skillID, typeID uint) error {
	tx := s.conn(ctx).Model(&model.Skill{}).Where("id = ?", skillID).Update("skill_type_id", typeID)
	if tx.Error != nil {
		return fmt.Errorf("set skill type: %w", tx.Error)
	}
	return nil
}

// HasCandidateSkill 判断候选人与技能是否已关联。
func (s *Store) HasCandidateSkill(ctx context.Context, candidateID, skillID uint) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&model.CandidateSkill{}).
		Where("candidate_id = ? AND skill_id = ?", candidateID, skillID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check candidate skill: %w", err)
	}
	return count > 0, nil
}

// CreateCandidateSkill 新增候选人技能关联。
func (s *Store) CreateCandidateSkill(ctx context.Context, link *model.CandidateSkill) error {
	if err := s.conn(ctx).Omit(clause.Associations).Create(link).Error; err != nil {
		return fmt.Errorf("create candidate skill: %w", err)
	}
	return nil
}

// ListCandidateSkills 返回候选人技能及其等级、类别。
func (s *Store) ListCandidateSkills(ctx context.Context, candidateID uint) ([]model.CandidateSkill, error) {
	var links []model.CandidateSkill
	if err := s.conn(ctx).Preload("Skill").Preload("SkillLevel").Preload("SkillType").
		Where("candidate_id = ?", candidateID).
		Order("id ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list candidate skills: %w", err)
	}
	return links, nil
}
