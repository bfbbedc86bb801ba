package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModerationRunRepository 持久化审核流程的步骤检查点
type ModerationRunRepository interface {
	// Begin 读取或创建某条评论的运行记录，并增加一次尝试次数
	Begin(ctx context.Context, commentID uint) (*models.ModerationRun, error)
	SaveStep(ctx context.Context, commentID uint, step string, output json.RawMessage) error
	Complete(ctx context.Context, commentID uint) error
}

type moderationRunRepository struct {
	db *gorm.DB
}

func NewModerationRunRepository(db *gorm.DB) ModerationRunRepository {
	return &moderationRunRepository{db: db}
}

func (r *moderationRunRepository) Begin(ctx context.Context, commentID uint) (*models.ModerationRun, error) {
	var run models.ModerationRun
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&run, "comment_id = ?", commentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			run = models.ModerationRun{
				CommentID:  commentID,
				InstanceID: uuid.NewString(),
				Steps:      map[string]json.RawMessage{},
				Attempts:   1,
			}
			return tx.Create(&run).Error
		}
		if err != nil {
			return err
		}
		run.Attempts++
		return tx.Model(&run).Update("attempts", run.Attempts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("begin moderation run %d: %w", commentID, err)
	}
	if run.Steps == nil {
		run.Steps = map[string]json.RawMessage{}
	}
	return &run, nil
}

func (r *moderationRunRepository) SaveStep(ctx context.Context, commentID uint, step string, output json.RawMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.ModerationRun
		if err := tx.First(&run, "comment_id = ?", commentID).Error; err != nil {
			return fmt.Errorf("load moderation run %d: %w", commentID, translate(err))
		}
		if run.Steps == nil {
			run.Steps = map[string]json.RawMessage{}
		}
		run.Steps[step] = output
		if err := tx.Model(&run).Select("steps").Updates(&run).Error; err != nil {
			return fmt.Errorf("save step %q of run %d: %w", step, commentID, err)
		}
		return nil
	})
}

func (r *moderationRunRepository) Complete(ctx context.Context, commentID uint) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.ModerationRun{}).
		Where("comment_id = ?", commentID).
		Update("completed_at", &now).Error
	if err != nil {
		return fmt.Errorf("complete moderation run %d: %w", commentID, err)
	}
	return nil
}
