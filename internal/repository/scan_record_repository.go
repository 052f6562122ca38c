package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mediassist/internal/model"
)

type ScanRecordRepository struct {
	db *gorm.DB
}

func NewScanRecordRepository(db *gorm.DB) *ScanRecordRepository {
	return &ScanRecordRepository{db: db}
}

// ListByProfile returns archived analyses, newest first.
func (r *ScanRecordRepository) ListByProfile(ctx context.Context, profileID uint, limit int) ([]model.ScanRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var records []model.ScanRecord
	err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list scan records failed: %w", err)
	}
	return records, nil
}
