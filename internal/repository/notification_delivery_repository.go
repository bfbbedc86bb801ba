package repository

import (
	"context"
	"fmt"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationDeliveryRepository 持久化邮件去重键
type NotificationDeliveryRepository interface {
	// Reserve 首次登记返回 true，键已存在返回 false
	Reserve(ctx context.Context, key string) (bool, error)
	// Release 撤销登记，用于入队失败的回滚
	Release(ctx context.Context, key string) error
}

type notificationDeliveryRepository struct {
	db *gorm.DB
}

func NewNotificationDeliveryRepository(db *gorm.DB) NotificationDeliveryRepository {
	return &notificationDeliveryRepository{db: db}
}

func (r *notificationDeliveryRepository) Reserve(ctx context.Context, key string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&models.NotificationDelivery{DedupeKey: key})
	if result.Error != nil {
		return false, fmt.Errorf("reserve delivery %q: %w", key, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *notificationDeliveryRepository) Release(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ?", key).
		Delete(&models.NotificationDelivery{}).Error
	if err != nil {
		return fmt.Errorf("release delivery %q: %w", key, err)
	}
	return nil
}
