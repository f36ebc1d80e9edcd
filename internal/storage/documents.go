package storage

import (
	"context"
	"fmt"

	"talent-radar/internal/model"
)

// CreateDocument 保存单个文档。
func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.Size == 0 {
		doc.Size = int64(len(doc.Data))
	}
	if err := s.conn(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetDocument 获取文档（包含内容）。
func (s *Store) GetDocument(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := s.conn(ctx).First(&doc, id).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListPostingDocuments 返回职位附件的元数据，不加载内容。
func (s *Store) ListPostingDocuments(ctx context.Context, postingID uint, kind model.DocumentKind) ([]model.Document, error) {
	var docs []model.Document
	query := s.conn(ctx).Omit("data").Where("posting_id = ?", postingID).Order("id ASC")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list posting documents: %w", err)
	}
	return docs, nil
}

// CountPostingDocuments 统计职位某类附件数量。
func (s *Store) CountPostingDocuments(ctx context.Context, postingID uint, kind model.DocumentKind) (int64, error) {
	var total int64
	if err := s.conn(ctx).Model(&model.Document{}).
		Where("posting_id = ? AND kind = ?", postingID, kind).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count posting documents: %w", err)
	}
	return total, nil
}

// DeletePostingDocuments 删除职位某类附件，返回删除数量。
func (s *Store) DeletePostingDocuments(ctx context.Context, postingID uint, kind model.DocumentKind) (int64, error) {
	tx := s.conn(ctx).Where("posting_id = ? AND kind = ?", postingID, kind).Delete(&model.Document{})
	if tx.Error != nil {
		return 0, fmt.Errorf("delete posting documents: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}
