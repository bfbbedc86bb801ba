package models

import (
	"time"
)

type UnsubscribeType string

const (
	UnsubscribeReplyNotification UnsubscribeType = "reply_notification"
)

func (t UnsubscribeType) Valid() bool {
	return t == UnsubscribeReplyNotification
}

// EmailUnsubscribe 记录用户退订的邮件类别
type EmailUnsubscribe struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;uniqueIndex:idx_unsubscribe_user_type" json:"user_id"`
	User      User            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Type      UnsubscribeType `gorm:"type:varchar(32);not null;uniqueIndex:idx_unsubscribe_user_type" json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}
