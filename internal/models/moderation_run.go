package models

import (
	"encoding/json"
	"time"
)

// ModerationRun 保存某条评论审核流程的步骤检查点，重跑时跳过已完成的步骤
type ModerationRun struct {
	CommentID   uint                       `gorm:"primaryKey;autoIncrement:false" json:"comment_id"`
	InstanceID  string                     `gorm:"size:36;not null" json:"instance_id"`
	Steps       map[string]json.RawMessage `gorm:"serializer:json;type:text" json:"steps"`
	Attempts    int                        `gorm:"default:0" json:"attempts"`
	CompletedAt *time.Time                 `json:"completed_at"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

func (r *ModerationRun) HasStep(name string) bool {
	_, ok := r.Steps[name]
	return ok
}
