package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
)

// Actor 是当前操作者
type Actor struct {
	ID    uint
	Name  string
	Admin bool
}

type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

type RootCommentItem struct {
	models.Comment
	ReplyCount int64 `json:"reply_count"`
}

type CreateCommentInput struct {
	PostID           uint
	Content          json.RawMessage
	RootID           *uint
	ReplyToCommentID *uint
}

type commentNotifier interface {
	SendReplyNotification(ctx context.Context, comment *models.Comment, post *models.Post) error
	NotifyAdminNewComment(ctx context.Context, comment *models.Comment, post *models.Post, commenterName string) error
}

// CommentService 负责评论的创建、审核、删除和查询
type CommentService struct {
	comments  repository.CommentRepository
	posts     repository.PostRepository
	validator *ReplyTreeValidator
	notifier  commentNotifier
	scheduler ModerationScheduler
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	notifier commentNotifier,
	scheduler ModerationScheduler,
) *CommentService {
	return &CommentService{
		comments:  comments,
		posts:     posts,
		validator: NewReplyTreeValidator(comments),
		notifier:  notifier,
		scheduler: scheduler,
	}
}

// Create 普通用户的评论进入 verifying 等待异步审核，管理员的评论直接发布
func (s *CommentService) Create(ctx context.Context, actor Actor, in CreateCommentInput) (*models.Comment, error) {
	post, err := s.findPost(ctx, in.PostID)
	if err != nil {
		return nil, err
	}

	target, err := s.validator.Validate(ctx, in.PostID, in.RootID, in.ReplyToCommentID)
	if err != nil {
		return nil, err
	}

	status := models.CommentStatusVerifying
	if actor.Admin {
		status = models.CommentStatusPublished
	}

	comment := &models.Comment{
		PostID:           in.PostID,
		UserID:           actor.ID,
		Content:          in.Content,
		RootID:           target.RootID,
		ReplyToCommentID: target.ReplyToCommentID,
		Status:           status,
	}
	if err := s.comments.Insert(ctx, comment); err != nil {
		return nil, err
	}

	if actor.Admin {
		if comment.ReplyToCommentID != nil {
			if err := s.notifier.SendReplyNotification(ctx, comment, post); err != nil {
				log.Printf("❌ [comment] reply notification for comment %d failed: %v", comment.ID, err)
			}
		}
		return comment, nil
	}

	if err := s.scheduler.Schedule(ctx, comment.ID); err != nil {
		log.Printf("⚠️ [comment] schedule moderation for comment %d: %v", comment.ID, err)
	}
	if comment.IsRoot() {
		if err := s.notifier.NotifyAdminNewComment(ctx, comment, post, actor.Name); err != nil {
			log.Printf("❌ [comment] admin notification for comment %d failed: %v", comment.ID, err)
		}
	}
	return comment, nil
}

// Delete 软删除，仅作者本人或管理员可操作
func (s *CommentService) Delete(ctx context.Context, actor Actor, id uint) error {
	comment, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Admin && comment.UserID != actor.ID {
		return ErrPermissionDenied
	}

	if _, err := s.comments.UpdateStatus(ctx, id, models.CommentStatusDeleted, nil); err != nil {
		return notFoundAs(err, ErrCommentNotFound)
	}
	return nil
}

// AdminDelete 物理删除
func (s *CommentService) AdminDelete(ctx context.Context, actor Actor, id uint) error {
	if !actor.Admin {
		return ErrPermissionDenied
	}
	if err := s.comments.Delete(ctx, id); err != nil {
		return notFoundAs(err, ErrCommentNotFound)
	}
	return nil
}

// Moderate 管理员手动审核未删除的评论。首次发布一条回复时通知被回复者。
func (s *CommentService) Moderate(ctx context.Context, actor Actor, id uint, status models.CommentStatus) (*models.Comment, error) {
	if !actor.Admin {
		return nil, ErrPermissionDenied
	}
	if !status.Moderatable() {
		return nil, ErrInvalidStatus
	}

	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// 软删除的评论不再参与审核
	if existing.Status == models.CommentStatusDeleted {
		return nil, ErrInvalidStatus
	}

	updated, err := s.comments.UpdateStatus(ctx, id, status, nil)
	if err != nil {
		return nil, notFoundAs(err, ErrCommentNotFound)
	}

	firstPublish := status == models.CommentStatusPublished && existing.Status != models.CommentStatusPublished
	if firstPublish && updated.ReplyToCommentID != nil {
		s.notifyReply(ctx, updated)
	}
	return updated, nil
}

func (s *CommentService) notifyReply(ctx context.Context, comment *models.Comment) {
	post, err := s.posts.FindByID(ctx, comment.PostID)
	if err != nil {
		log.Printf("⚠️ [comment] post %d unavailable, reply notification for %d skipped: %v", comment.PostID, comment.ID, err)
		return
	}
	if err := s.notifier.SendReplyNotification(ctx, comment, post); err != nil {
		log.Printf("❌ [comment] reply notification for comment %d failed: %v", comment.ID, err)
	}
}

func (s *CommentService) FindByID(ctx context.Context, id uint) (*models.Comment, error) {
	comment, err := s.comments.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrCommentNotFound)
	}
	return comment, nil
}

func publicVisibility(viewerID *uint) repository.Visibility {
	return repository.Visibility{
		Statuses: models.PublicCommentStatuses,
		ViewerID: nonZero(viewerID),
	}
}

// GetRootComments 文章下的根评论，附带每条的可见回复数
func (s *CommentService) GetRootComments(ctx context.Context, postID uint, viewerID *uint, p repository.Pagination) (*Page[RootCommentItem], error) {
	visibility := publicVisibility(viewerID)
	roots, total, err := s.comments.ListRootsByPost(ctx, postID, repository.CommentListQuery{
		Pagination: p,
		Visibility: visibility,
	})
	if err != nil {
		return nil, err
	}

	items := make([]RootCommentItem, 0, len(roots))
	for _, root := range roots {
		count, err := s.comments.CountReplies(ctx, postID, root.ID, visibility)
		if err != nil {
			return nil, err
		}
		items = append(items, RootCommentItem{Comment: root, ReplyCount: count})
	}
	return &Page[RootCommentItem]{Items: items, Total: total}, nil
}

func (s *CommentService) GetReplies(ctx context.Context, postID, rootID uint, viewerID *uint, p repository.Pagination) (*Page[models.Comment], error) {
	items, total, err := s.comments.ListRepliesByRoot(ctx, postID, rootID, repository.CommentListQuery{
		Pagination: p,
		Visibility: publicVisibility(viewerID),
	})
	if err != nil {
		return nil, err
	}
	return &Page[models.Comment]{Items: items, Total: total}, nil
}

func (s *CommentService) GetMyComments(ctx context.Context, actor Actor, status *models.CommentStatus, p repository.Pagination) (*Page[models.Comment], error) {
	if status != nil && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	items, total, err := s.comments.ListByUser(ctx, actor.ID, status, p)
	if err != nil {
		return nil, err
	}
	return &Page[models.Comment]{Items: items, Total: total}, nil
}

func (s *CommentService) GetAllComments(ctx context.Context, q repository.AdminCommentQuery) (*Page[models.Comment], error) {
	if q.Status != nil && !q.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	items, total, err := s.comments.ListAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page[models.Comment]{Items: items, Total: total}, nil
}

func (s *CommentService) GetUserStats(ctx context.Context, userID uint) (*repository.UserCommentStats, error) {
	return s.comments.UserStats(ctx, userID)
}

func (s *CommentService) findPost(ctx context.Context, id uint) (*models.Post, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrPostNotFound)
	}
	return post, nil
}

func notFoundAs(err error, domainErr *DomainError) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domainErr
	}
	return err
}
