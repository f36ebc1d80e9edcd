package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"
)

// ReplaceMatchStatements 删除候选人旧评估并写入新评估。
func (s *Store) ReplaceMatchStatements(ctx context.Context, candidateID uint, stmts []model.MatchStatement) error {
	if err := s.conn(ctx).Where("candidate_id = ?", candidateID).Delete(&model.MatchStatement{}).Error; err != nil {
		return fmt.Errorf("delete match statements: %w", err)
	}
	if len(stmts) == 0 {
		return nil
	}
	for i := range stmts {
		stmts[i].ID = 0
		stmts[i].CandidateID = candidateID
	}
	if err := s.conn(ctx).Create(&stmts).Error; err != nil {
		return fmt.Errorf("create match statements: %w", err)
	}
	return nil
}

// ListMatchStatements 返回候选人评估，按要求排序。
func (s *Store) ListMatchStatements(ctx context.Context, candidateID uint) ([]model.MatchStatement, error) {
	var stmts []model.MatchStatement
	if err := s.conn(ctx).Where("candidate_id = ?", candidateID).Order("requirement_id ASC, id ASC").Find(&stmts).Error; err != nil {
		return nil, fmt.Errorf("list match statements: %w", err)
	}
	return stmts, nil
}
