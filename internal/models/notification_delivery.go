package models

import "time"

// NotificationDelivery 记录已投递过的邮件去重键，永久保留
type NotificationDelivery struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DedupeKey string    `gorm:"size:191;not null;uniqueIndex" json:"dedupe_key"`
	CreatedAt time.Time `json:"created_at"`
}
