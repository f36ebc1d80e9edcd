package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"
)

// DeleteRequirements 删除职位全部要求、标签关联以及引用这些要求的评估，
// 返回评估被删除的候选人 ID，调用方需为其重新计算匹配度。
func (s *Store) DeleteRequirements(ctx context.Context, postingID uint) ([]uint, error) {
	var ids []uint
	if err := s.conn(ctx).Model(&model.Requirement{}).Where("posting_id = ?", postingID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list requirement ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var affected []uint
	if err := s.conn(ctx).Model(&model.MatchStatement{}).
		Where("requirement_id IN ?", ids).
		Distinct().Order("candidate_id ASC").
		Pluck("candidate_id", &affected).Error; err != nil {
		return nil, fmt.Errorf("list affected candidates: %w", err)
	}
	if err := s.conn(ctx).Where("requirement_id IN ?", ids).Delete(&model.MatchStatement{}).Error; err != nil {
		return nil, fmt.Errorf("delete match statements: %w", err)
	}
	if err := s.conn(ctx).Exec("DELETE FROM requirement_tag_links WHERE requirement_id IN ?", ids).Error; err != nil {
		return nil, fmt.Errorf("delete requirement tags: %w", err)
	}
	if err := s.conn(ctx).Where("id IN ?", ids).Delete(&model.Requirement{}).Error; err != nil {
		return nil, fmt.Errorf("delete requirements: %w", err)
	}
	return affected, nil
}

// FindOrCreateRequirementTag 大小写不敏感查找要求标签，不存在则创建。
func (s *Store) FindOrCreateRequirementTag(ctx context.Context, name string) (*model.RequirementTag, error) {
	var tag model.RequirementTag
	err := s.conn(ctx).Where("LOWER(name) = LOWER(?)", name).Order("id ASC").First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("find requirement tag: %w", err)
	}
	tag = model.RequirementTag{Name: name}
	if err := s.conn(ctx).Create(&tag).Error; err != nil {
		return nil, fmt.Errorf("create requirement tag: %w", err)
	}
	return &tag, nil
}

// CreateRequirement 新增要求，Tags 中的已有标签仅建立关联。
func (s *Store) CreateRequirement(ctx context.Context, req *model.Requirement) error {
	if req.Weight <= 0 {
		req.Weight = 1.0
	}
	if err := s.conn(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create requirement: %w", err)
	}
	return nil
}

// ListRequirements 返回职位要求及标签，按顺序号排序。
func (s *Store) ListRequirements(ctx context.Context, postingID uint) ([]model.Requirement, error) {
	var reqs []model.Requirement
	if err := s.conn(ctx).Preload("Tags").
		Where("posting_id = ?", postingID).
		Order("sequence ASC, id ASC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	return reqs, nil
}

// RequirementWeights 返回职位现存要求的权重表。
func (s *Store) RequirementWeights(ctx context.Context, postingID uint) (map[uint]float64, error) {
	var rows []struct {
		ID     uint
		Weight float64
	}
	if err := s.conn(ctx).Model(&model.Requirement{}).Select("id, weight").Where("posting_id = ?", postingID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load requirement weights: %w", err)
	}
	weights := make(map[uint]float64, len(rows))
	for _, row := range rows {
		weights[row.ID] = row.Weight
	}
	return weights, nil
}
