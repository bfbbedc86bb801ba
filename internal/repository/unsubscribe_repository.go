package repository

import (
	"context"
	"fmt"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UnsubscribeRepository interface {
	IsUnsubscribed(ctx context.Context, userID uint, t models.UnsubscribeType) (bool, error)
	Unsubscribe(ctx context.Context, userID uint, t models.UnsubscribeType) error
}

type unsubscribeRepository struct {
	db *gorm.DB
}

func NewUnsubscribeRepository(db *gorm.DB) UnsubscribeRepository {
	return &unsubscribeRepository{db: db}
}

func (r *unsubscribeRepository) IsUnsubscribed(ctx context.Context, userID uint, t models.UnsubscribeType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.EmailUnsubscribe{}).
		Where("user_id = ? AND type = ?", userID, t).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check unsubscribe: %w", err)
	}
	return count > 0, nil
}

// Unsubscribe 重复退订不报错
func (r *unsubscribeRepository) Unsubscribe(ctx context.Context, userID uint, t models.UnsubscribeType) error {
	record := models.EmailUnsubscribe{UserID: userID, Type: t}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("User").
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("unsubscribe user %d from %s: %w", userID, t, err)
	}
	return nil
}
