package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"
)

// CreateRecipient 新增通知接收人。
func (s *Store) CreateRecipient(ctx context.Context, r *model.Recipient) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create recipient: %w", err)
	}
	return nil
}

// GetRecipient 根据 ID 获取接收人。
func (s *Store) GetRecipient(ctx context.Context, id uint) (*model.Recipient, error) {
	var r model.Recipient
	if err := s.conn(ctx).First(&r, id).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &r, nil
}
