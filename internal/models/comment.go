package models

import (
	"encoding/json"
	"time"
)

type CommentStatus string

const (
	CommentStatusVerifying CommentStatus = "verifying" // 等待 AI 审核
	CommentStatusPublished CommentStatus = "published"
	CommentStatusPending   CommentStatus = "pending" // 等待人工审核
	CommentStatusDeleted   CommentStatus = "deleted"
)

// PublicCommentStatuses 是公开列表可见的状态，作者本人另外能看到自己的全部评论
var PublicCommentStatuses = []CommentStatus{CommentStatusPublished}

func (s CommentStatus) Valid() bool {
	switch s {
	case CommentStatusVerifying, CommentStatusPublished, CommentStatusPending, CommentStatusDeleted:
		return true
	}
	return false
}

// Moderatable 管理员手动审核只能落到 published 或 pending
func (s CommentStatus) Moderatable() bool {
	return s == CommentStatusPublished || s == CommentStatusPending
}

type Comment struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	PostID           uint            `gorm:"not null;index" json:"post_id"`
	UserID           uint            `gorm:"not null;index" json:"user_id"`
	User             *User           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user,omitempty"`
	Content          json.RawMessage `gorm:"type:jsonb" json:"content"`
	RootID           *uint           `gorm:"index" json:"root_id"`           // nil 表示根评论
	ReplyToCommentID *uint           `gorm:"index" json:"reply_to_comment_id"` // 根评论必须为 nil
	Status           CommentStatus   `gorm:"size:20;not null;default:'verifying';index" json:"status"`
	AIReason         *string         `gorm:"type:text" json:"ai_reason"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (c *Comment) IsRoot() bool {
	return c.RootID == nil
}

func (c *Comment) IsReply() bool {
	return c.ReplyToCommentID != nil
}

// ThreadRootID 返回评论所在楼的根评论 ID
func (c *Comment) ThreadRootID() uint {
	if c.RootID != nil {
		return *c.RootID
	}
	return c.ID
}
