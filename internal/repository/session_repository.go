package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mediassist/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) ListByProfile(ctx context.Context, profileID uint) ([]model.AssistantSession, error) {
	var sessions []model.AssistantSession
	err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("last_active_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}
