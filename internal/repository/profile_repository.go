package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mediassist/internal/model"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(profile *model.Profile) error {
	if err := r.db.Create(profile).Error; err != nil {
		return fmt.Errorf("create profile failed: %w", err)
	}
	return nil
}

func (r *ProfileRepository) GetByUsername(username string) (*model.Profile, error) {
	return r.first("query profile by username failed", "username = ?", username)
}

func (r *ProfileRepository) GetByEmail(email string) (*model.Profile, error) {
	return r.first("query profile by email failed", "email = ?", email)
}

func (r *ProfileRepository) GetByID(id uint) (*model.Profile, error) {
	return r.first("query profile by id failed", "id = ?", id)
}

// first returns nil, nil when nothing matches.
func (r *ProfileRepository) first(op, query string, arg interface{}) (*model.Profile, error) {
	var profile model.Profile
	if err := r.db.Where(query, arg).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &profile, nil
}
