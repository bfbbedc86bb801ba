package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"gorm.io/gorm"
)

// Visibility 控制列表查询能看到哪些状态。
// ViewerID 不为空时，查看者自己的评论在任何状态下都可见。
type Visibility struct {
	Statuses []models.CommentStatus
	ViewerID *uint
}

type CommentListQuery struct {
	Pagination
	Visibility
}

type AdminCommentQuery struct {
	Pagination
	Status   *models.CommentStatus
	PostID   *uint
	UserID   *uint
	UserName string
}

type UserCommentStats struct {
	TotalComments    int64      `json:"total_comments"`
	RejectedComments int64      `json:"rejected_comments"`
	RegisteredAt     *time.Time `json:"registered_at"`
}

type CommentRepository interface {
	Insert(ctx context.Context, comment *models.Comment) error
	FindByID(ctx context.Context, id uint) (*models.Comment, error)
	UpdateStatus(ctx context.Context, id uint, status models.CommentStatus, aiReason *string) (*models.Comment, error)
	// TransitionStatus 仅当当前状态为 from 时更新，返回是否更新成功
	TransitionStatus(ctx context.Context, id uint, from, to models.CommentStatus, aiReason *string) (bool, error)
	Delete(ctx context.Context, id uint) error

	ListRootsByPost(ctx context.Context, postID uint, q CommentListQuery) ([]models.Comment, int64, error)
	CountReplies(ctx context.Context, postID, rootID uint, v Visibility) (int64, error)
	ListRepliesByRoot(ctx context.Context, postID, rootID uint, q CommentListQuery) ([]models.Comment, int64, error)
	ListByUser(ctx context.Context, userID uint, status *models.CommentStatus, p Pagination) ([]models.Comment, int64, error)
	ListAll(ctx context.Context, q AdminCommentQuery) ([]models.Comment, int64, error)
	ListStaleVerifying(ctx context.Context, before time.Time, limit int) ([]uint, error)

	FindAuthor(ctx context.Context, commentID uint) (*models.User, error)
	UserStats(ctx context.Context, userID uint) (*UserCommentStats, error)
}

type commentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Insert(ctx context.Context, comment *models.Comment) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(comment).Error; err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *commentRepository) FindByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("User").First(&comment, id).Error; err != nil {
		return nil, translate(err)
	}
	return &comment, nil
}

func (r *commentRepository) UpdateStatus(ctx context.Context, id uint, status models.CommentStatus, aiReason *string) (*models.Comment, error) {
	updates := map[string]interface{}{"status": status}
	if aiReason != nil {
		updates["ai_reason"] = *aiReason
	}

	result := r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("update comment %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *commentRepository) TransitionStatus(ctx context.Context, id uint, from, to models.CommentStatus, aiReason *string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if aiReason != nil {
		updates["ai_reason"] = *aiReason
	}

	result := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("transition comment %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *commentRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Comment{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete comment %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func applyVisibility(tx *gorm.DB, v Visibility) *gorm.DB {
	switch {
	case len(v.Statuses) > 0 && v.ViewerID != nil:
		return tx.Where("(comments.status IN ? OR comments.user_id = ?)", v.Statuses, *v.ViewerID)
	case len(v.Statuses) > 0:
		return tx.Where("comments.status IN ?", v.Statuses)
	}
	return tx
}

func (r *commentRepository) ListRootsByPost(ctx context.Context, postID uint, q CommentListQuery) ([]models.Comment, int64, error) {
	base := func() *gorm.DB {
		tx := r.db.WithContext(ctx).Model(&models.Comment{}).
			Where("comments.post_id = ? AND comments.root_id IS NULL", postID)
		return applyVisibility(tx, q.Visibility)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count root comments: %w", err)
	}

	var items []models.Comment
	err := q.Pagination.apply(base().Preload("User")).
		Order("comments.created_at DESC, comments.id DESC").
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list root comments: %w", err)
	}
	return items, total, nil
}

func (r *commentRepository) CountReplies(ctx context.Context, postID, rootID uint, v Visibility) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("comments.post_id = ? AND comments.root_id = ?", postID, rootID)

	var count int64
	if err := applyVisibility(tx, v).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count replies of %d: %w", rootID, err)
	}
	return count, nil
}

func (r *commentRepository) ListRepliesByRoot(ctx context.Context, postID, rootID uint, q CommentListQuery) ([]models.Comment, int64, error) {
	base := func() *gorm.DB {
		tx := r.db.WithContext(ctx).Model(&models.Comment{}).
			Where("comments.post_id = ? AND comments.root_id = ?", postID, rootID)
		return applyVisibility(tx, q.Visibility)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count replies: %w", err)
	}

	var items []models.Comment
	err := q.Pagination.apply(base().Preload("User")).
		Order("comments.created_at ASC, comments.id ASC").
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list replies: %w", err)
	}
	return items, total, nil
}

func (r *commentRepository) ListByUser(ctx context.Context, userID uint, status *models.CommentStatus, p Pagination) ([]models.Comment, int64, error) {
	base := func() *gorm.DB {
		tx := r.db.WithContext(ctx).Model(&models.Comment{}).Where("user_id = ?", userID)
		if status != nil {
			tx = tx.Where("status = ?", *status)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count user comments: %w", err)
	}

	var items []models.Comment
	if err := p.apply(base()).Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list user comments: %w", err)
	}
	return items, total, nil
}

func (r *commentRepository) ListAll(ctx context.Context, q AdminCommentQuery) ([]models.Comment, int64, error) {
	base := func() *gorm.DB {
		tx := r.db.WithContext(ctx).Model(&models.Comment{})
		if q.Status != nil {
			tx = tx.Where("comments.status = ?", *q.Status)
		}
		if q.PostID != nil {
			tx = tx.Where("comments.post_id = ?", *q.PostID)
		}
		if q.UserID != nil {
			tx = tx.Where("comments.user_id = ?", *q.UserID)
		}
		if name := strings.TrimSpace(q.UserName); name != "" {
			tx = tx.Joins("JOIN users ON users.id = comments.user_id").
				Where("LOWER(users.name) LIKE ?", "%"+strings.ToLower(name)+"%")
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}

	var items []models.Comment
	err := q.Pagination.apply(base().Preload("User")).
		Order("comments.created_at DESC, comments.id DESC").
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	return items, total, nil
}

func (r *commentRepository) ListStaleVerifying(ctx context.Context, before time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("status = ? AND created_at < ?", models.CommentStatusVerifying, before).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list stale comments: %w", err)
	}
	return ids, nil
}

func (r *commentRepository) FindAuthor(ctx context.Context, commentID uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Joins("JOIN comments ON comments.user_id = users.id").
		Where("comments.id = ?", commentID).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *commentRepository) UserStats(ctx context.Context, userID uint) (*UserCommentStats, error) {
	stats := &UserCommentStats{}

	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalComments).Error
	if err != nil {
		return nil, fmt.Errorf("count comments of user %d: %w", userID, err)
	}

	err = r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("user_id = ? AND status = ?", userID, models.CommentStatusDeleted).
		Count(&stats.RejectedComments).Error
	if err != nil {
		return nil, fmt.Errorf("count deleted comments of user %d: %w", userID, err)
	}

	var user models.User
	err = r.db.WithContext(ctx).Select("id", "created_at").First(&user, userID).Error
	switch {
	case err == nil:
		stats.RegisteredAt = &user.CreatedAt
	case translate(err) != ErrNotFound:
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	return stats, nil
}
