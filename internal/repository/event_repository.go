package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mediassist/internal/model"
)

// EventRepository writes queued assistant events into the archive tables.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Apply stores one event. It reports false when the event was already stored.
func (r *EventRepository) Apply(ctx context.Context, event model.AssistantEvent) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			result              *gorm.DB
			messageInc, scanInc int
		)
		switch event.Kind {
		case model.EventKindMessage:
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ChatMessage{
				EventID:   event.EventID,
				ProfileID: event.ProfileID,
				SessionID: event.SessionID,
				Role:      event.Role,
				Content:   event.Content,
				CreatedAt: event.OccurredAt,
			})
			messageInc = 1
		case model.EventKindScan:
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ScanRecord{
				EventID:    event.EventID,
				ProfileID:  event.ProfileID,
				SessionID:  event.SessionID,
				Filename:   event.Filename,
				ImageType:  event.ImageType,
				AnalyzedAt: event.AnalyzedAt,
				Analysis:   event.Analysis,
				CreatedAt:  event.OccurredAt,
			})
			scanInc = 1
		default:
			return fmt.Errorf("unknown event kind %q", event.Kind)
		}
		if result.Error != nil {
			return fmt.Errorf("insert %s event failed: %w", event.Kind, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true

		if event.SessionID == "" {
			return nil
		}
		session := model.AssistantSession{
			ProfileID:    event.ProfileID,
			SessionID:    event.SessionID,
			MessageCount: messageInc,
			ScanCount:    scanInc,
			LastActiveAt: event.OccurredAt,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}, {Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"message_count":  gorm.Expr("message_count + ?", messageInc),
				"scan_count":     gorm.Expr("scan_count + ?", scanInc),
				"last_active_at": event.OccurredAt,
			}),
		}).Create(&session).Error
		if err != nil {
			return fmt.Errorf("upsert session failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
