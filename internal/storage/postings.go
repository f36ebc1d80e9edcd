package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostingQuery 职位筛选条件。
type PostingQuery struct {
	AutoProcessOnly bool
	Limit           int
}

// CreatePosting 新增职位并同时创建其批处理记录。
func (s *Store) CreatePosting(ctx context.Context, posting *model.Posting) error {
	if posting.MatchStrategy == "" {
		posting.MatchStrategy = model.MatchSingle
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(posting).Error; err != nil {
			return fmt.Errorf("create posting: %w", err)
		}
		batch := model.BatchJob{PostingID: posting.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error; err != nil {
			return fmt.Errorf("create batch job: %w", err)
		}
		return nil
	})
}

// GetPosting 根据 ID 获取职位。
func (s *Store) GetPosting(ctx context.Context, id uint) (*model.Posting, error) {
	var posting model.Posting
	if err := s.conn(ctx).First(&posting, id).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get posting: %w", err)
	}
	return &posting, nil
}

// ListPostings 返回职位列表，按 ID 升序。
func (s *Store) ListPostings(ctx context.Context, q PostingQuery) ([]model.Posting, error) {
	var postings []model.Posting
	query := s.conn(ctx).Order("id ASC")
	if q.AutoProcessOnly {
		query = query.Where("auto_process = ?", true)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if err := query.Find(&postings).Error; err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	return postings, nil
}
