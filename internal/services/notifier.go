package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/utils"
)

const (
	previewLength       = 100
	anonymousReplier    = "有人"
	listUnsubscribePost = "List-Unsubscribe=One-Click"
)

type NotifierConfig struct {
	Domain            string
	AdminEmail        string
	UnsubscribeSecret string
}

type authorLookup interface {
	FindAuthor(ctx context.Context, commentID uint) (*models.User, error)
}

type unsubscribeChecker interface {
	IsUnsubscribed(ctx context.Context, userID uint, t models.UnsubscribeType) (bool, error)
}

// NotificationDispatcher 决定评论状态变化后是否发邮件、发给谁
type NotificationDispatcher struct {
	authors      authorLookup
	unsubscribes unsubscribeChecker
	outbox       Outbox
	cfg          NotifierConfig
}

func NewNotificationDispatcher(authors authorLookup, unsubscribes unsubscribeChecker, outbox Outbox, cfg NotifierConfig) *NotificationDispatcher {
	return &NotificationDispatcher{
		authors:      authors,
		unsubscribes: unsubscribes,
		outbox:       outbox,
		cfg:          cfg,
	}
}

func ReplyDedupeKey(commentID uint) string {
	return fmt.Sprintf("notification-reply-%d", commentID)
}

func CommentURL(domain, slug string, commentID, rootID uint) string {
	return fmt.Sprintf("https://%s/post/%s?highlightCommentId=%d&rootId=%d#comment-%d",
		domain, slug, commentID, rootID, commentID)
}

// SendReplyNotification 通知被回复的人。找不到收件人、自己回复自己、已退订时静默跳过。
func (d *NotificationDispatcher) SendReplyNotification(ctx context.Context, comment *models.Comment, post *models.Post) error {
	if comment.ReplyToCommentID == nil {
		return nil
	}

	recipient, err := d.authors.FindAuthor(ctx, *comment.ReplyToCommentID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && recipient.Email == "") {
		log.Printf("[notify] reply-to author of comment %d not found or has no email, skipping", comment.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reply-to author: %w", err)
	}

	if recipient.ID == comment.UserID {
		log.Printf("[notify] comment %d is a self-reply, skipping", comment.ID)
		return nil
	}

	unsubscribed, err := d.unsubscribes.IsUnsubscribed(ctx, recipient.ID, models.UnsubscribeReplyNotification)
	if err != nil {
		return fmt.Errorf("check unsubscribe: %w", err)
	}
	if unsubscribed {
		log.Printf("[notify] user %d unsubscribed from reply notifications, skipping", recipient.ID)
		return nil
	}

	replierName := d.replierName(ctx, comment)
	unsubscribeURL := UnsubscribeURL(d.cfg.Domain, d.cfg.UnsubscribeSecret, recipient.ID, models.UnsubscribeReplyNotification)

	body, err := renderTemplate("reply_notification.html", ReplyNotificationData{
		PostTitle:      post.Title,
		ReplierName:    replierName,
		ReplyPreview:   utils.Preview(utils.ConvertToPlainText(comment.Content), previewLength),
		CommentURL:     CommentURL(d.cfg.Domain, post.Slug, comment.ID, comment.ThreadRootID()),
		UnsubscribeURL: unsubscribeURL,
	})
	if err != nil {
		return err
	}

	err = d.outbox.Enqueue(ctx, Email{
		DedupeKey: ReplyDedupeKey(comment.ID),
		To:        recipient.Email,
		Subject:   fmt.Sprintf("[评论回复] %s 回复了您在《%s》的评论", replierName, post.Title),
		HTML:      body,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + unsubscribeURL + ">",
			"List-Unsubscribe-Post": listUnsubscribePost,
		},
	})
	if errors.Is(err, ErrDuplicateDelivery) {
		log.Printf("[notify] reply notification for comment %d already sent, skipping", comment.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue reply notification: %w", err)
	}

	log.Printf("[notify] reply notification for comment %d queued to %s", comment.ID, recipient.Email)
	return nil
}

func (d *NotificationDispatcher) replierName(ctx context.Context, comment *models.Comment) string {
	if comment.User != nil && comment.User.Name != "" {
		return comment.User.Name
	}
	replier, err := d.authors.FindAuthor(ctx, comment.ID)
	if err != nil || replier.Name == "" {
		return anonymousReplier
	}
	return replier.Name
}

// NotifyAdminNewComment 非管理员发表根评论时通知站长，没有去重键
func (d *NotificationDispatcher) NotifyAdminNewComment(ctx context.Context, comment *models.Comment, post *models.Post, commenterName string) error {
	if d.cfg.AdminEmail == "" {
		log.Println("⚠️ [notify] ADMIN_EMAIL not set, skipping admin notification")
		return nil
	}

	body, err := renderTemplate("admin_notification.html", AdminNotificationData{
		PostTitle:      post.Title,
		CommenterName:  commenterName,
		CommentPreview: utils.Preview(utils.ConvertToPlainText(comment.Content), previewLength),
		CommentURL:     CommentURL(d.cfg.Domain, post.Slug, comment.ID, comment.ID),
	})
	if err != nil {
		return err
	}

	err = d.outbox.Enqueue(ctx, Email{
		To:      d.cfg.AdminEmail,
		Subject: fmt.Sprintf("[新评论] %s", post.Title),
		HTML:    body,
	})
	if err != nil {
		return fmt.Errorf("enqueue admin notification: %w", err)
	}
	return nil
}
