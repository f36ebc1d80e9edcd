package storage

import (
	"context"
	"fmt"
	"strings"

	"talent-radar/internal/model"

	"gorm.io/gorm/clause"
)

// CreateCandidate 新增候选人。
func (s *Store) CreateCandidate(ctx context.Context, cand *model.Candidate) error {
	if cand.ExtractState == "" {
		cand.ExtractState = model.ExtractNotStarted
	}
	if err := s.conn(ctx).Omit(clause.Associations).Create(cand).Error; err != nil {
		return fmt.Errorf("create candidate: %w", err)
	}
	return nil
}

// GetCandidate 获取候选人及学位、标签。
func (s *Store) GetCandidate(ctx context.Context, id uint) (*model.Candidate, error) {
	var cand model.Candidate
	if err := s.conn(ctx).Preload("Degree").Preload("Tags").First(&cand, id).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return &cand, nil
}

// ListCandidates 返回职位下候选人，按匹配度倒序。
func (s *Store) ListCandidates(ctx context.Context, postingID uint) ([]model.Candidate, error) {
	var cands []model.Candidate
	if err := s.conn(ctx).Preload("Degree").Preload("Tags").
		Where("posting_id = ?", postingID).
		Order("match_percentage DESC, id ASC").
		Find(&cands).Error; err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return cands, nil
}

// UpdateCandidate 以字段映射更新候选人。
func (s *Store) UpdateCandidate(ctx context.Context, id uint, values map[string]any) error {
	tx := s.conn(ctx).Model(&model.Candidate{}).Where("id = ?", id).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("update candidate: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("update candidate: id %d not found", id)
	}
	return nil
}

// TransitionExtractState 仅当当前状态属于 from 时切换到 to，返回是否切换成功。
func (s *Store) TransitionExtractState(ctx context.Context, id uint, from []model.ExtractState, to model.ExtractState, status string) (bool, error) {
	tx := s.conn(ctx).Model(&model.Candidate{}).
		Where("id = ? AND extract_state IN ?", id, from).
		Updates(map[string]any{"extract_state": to, "extract_status": status})
	if tx.Error != nil {
		return false, fmt.Errorf("transition extract state: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// QueueExtraction 将候选人置为 pending 并记录工作单元 ID。状态须属于 from；
// prevUnit 非空时还要求 extract_unit_id 仍为 *prevUnit，用于接管遗留的 pending/processing 记录。
func (s *Store) QueueExtraction(ctx context.Context, id uint, from []model.ExtractState, prevUnit *string, unitID, status string) (bool, error) {
	q := s.conn(ctx).Model(&model.Candidate{}).Where("id = ? AND extract_state IN ?", id, from)
	if prevUnit != nil {
		q = q.Where("extract_unit_id = ?", *prevUnit)
	}
	tx := q.Updates(map[string]any{
		"extract_state":   model.ExtractPending,
		"extract_status":  status,
		"extract_unit_id": unitID,
	})
	if tx.Error != nil {
		return false, fmt.Errorf("queue extraction: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// FindOrCreateDegree 按名称大小写不敏感查找学位，不存在则创建。
func (s *Store) FindOrCreateDegree(ctx context.Context, name string) (*model.Degree, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("find degree: empty name")
	}
	var degree model.Degree
	err := s.conn(ctx).Where("LOWER(name) = LOWER(?)", name).Order("id ASC").First(&degree).Error
	if err == nil {
		return &degree, nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("find degree: %w", err)
	}
	degree = model.Degree{Name: name}
	if err := s.conn(ctx).Create(&degree).Error; err != nil {
		return nil, fmt.Errorf("create degree: %w", err)
	}
	return &degree, nil
}

// EnsureCandidateTag 按名称获取标签，不存在则创建。
func (s *Store) EnsureCandidateTag(ctx context.Context, name string) (*model.CandidateTag, error) {
	tag := model.CandidateTag{Name: name}
	if err := s.conn(ctx).Where(model.CandidateTag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
		return nil, fmt.Errorf("ensure candidate tag: %w", err)
	}
	return &tag, nil
}

// ReplaceCandidateTags 先移除名称属于 remove 的标签，再追加 add。
func (s *Store) ReplaceCandidateTags(ctx context.Context, candidateID uint, remove []string, add *model.CandidateTag) error {
	cand := model.Candidate{ID: candidateID}
	if len(remove) > 0 {
		var stale []model.CandidateTag
		if err := s.conn(ctx).Where("name IN ?", remove).Find(&stale).Error; err != nil {
			return fmt.Errorf("load stale tags: %w", err)
		}
		if len(stale) > 0 {
			if err := s.conn(ctx).Model(&cand).Association("Tags").Delete(stale); err != nil {
				return fmt.Errorf("remove candidate tags: %w", err)
			}
		}
	}
	if add != nil {
		if err := s.conn(ctx).Model(&cand).Association("Tags").Append(add); err != nil {
			return fmt.Errorf("append candidate tag: %w", err)
		}
	}
	return nil
}
