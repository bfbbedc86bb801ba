package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/utils"
)

const (
	ReasonEmptyContent     = "empty content, needs manual review"
	ReasonJudgeUnavailable = "moderation service unavailable, pending manual review"
)

// persistTimeout 任务超时后落库剩余结果的时限
const persistTimeout = 10 * time.Second

const (
	stepMarkEmpty    = "mark empty comment as pending"
	stepModerate     = "moderate comment"
	stepUpdateStatus = "update comment status"
	stepNotify       = "send reply notification"
)

type replyNotifier interface {
	SendReplyNotification(ctx context.Context, comment *models.Comment, post *models.Post) error
}

// ModerationWorkflow 异步审核一条评论：取评论 → 调用审核服务 → 更新状态 → 通知被回复者。
// 每一步的结果都会落库，重跑时已完成的步骤直接复用结果。
type ModerationWorkflow struct {
	comments repository.CommentRepository
	posts    repository.PostRepository
	runs     repository.ModerationRunRepository
	judge    Judge
	notifier replyNotifier
	retry    RetryPolicy
}

func NewModerationWorkflow(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	runs repository.ModerationRunRepository,
	judge Judge,
	notifier replyNotifier,
	retry RetryPolicy,
) *ModerationWorkflow {
	return &ModerationWorkflow{
		comments: comments,
		posts:    posts,
		runs:     runs,
		judge:    judge,
		notifier: notifier,
		retry:    retry,
	}
}

type stepRecorder struct {
	run  *models.ModerationRun
	runs repository.ModerationRunRepository
}

// runStep 执行一个步骤并保存结果；已有检查点时直接返回保存的结果
func runStep[T any](ctx context.Context, rec *stepRecorder, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if raw, ok := rec.run.Steps[name]; ok {
		var saved T
		if err := json.Unmarshal(raw, &saved); err == nil {
			return saved, nil
		}
	}

	out, err := fn(ctx)
	if err != nil {
		return out, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("marshal step %q: %w", name, err)
	}
	saveCtx, cancel := liveContext(ctx)
	defer cancel()
	if err := rec.runs.SaveStep(saveCtx, rec.run.CommentID, name, raw); err != nil {
		return out, err
	}
	rec.run.Steps[name] = raw
	return out, nil
}

func (w *ModerationWorkflow) Run(ctx context.Context, commentID uint) error {
	comment, err := w.comments.FindByID(ctx, commentID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[moderation] comment %d not found, skipping", commentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch comment %d: %w", commentID, err)
	}

	run, err := w.runs.Begin(ctx, commentID)
	if err != nil {
		return err
	}
	rec := &stepRecorder{run: run, runs: w.runs}

	if comment.Status != models.CommentStatusVerifying {
		if w.notificationInterrupted(run, comment) {
			log.Printf("[moderation] comment %d: resuming reply notification", commentID)
			if post := w.fetchPost(ctx, comment.PostID); post != nil {
				w.notify(ctx, rec, comment, post)
			}
			return w.runs.Complete(ctx, commentID)
		}
		log.Printf("[moderation] comment %d already processed (status: %s), skipping", commentID, comment.Status)
		return nil
	}

	post := w.fetchPost(ctx, comment.PostID)
	if post == nil {
		return nil
	}

	plainText := utils.ConvertToPlainText(comment.Content)
	if strings.TrimSpace(plainText) == "" {
		_, err := runStep(ctx, rec, stepMarkEmpty, func(ctx context.Context) (bool, error) {
			reason := ReasonEmptyContent
			return w.comments.TransitionStatus(ctx, commentID, models.CommentStatusVerifying, models.CommentStatusPending, &reason)
		})
		if err != nil {
			return err
		}
		log.Printf("[moderation] comment %d has empty content, marked pending", commentID)
		return w.runs.Complete(ctx, commentID)
	}

	verdict, err := runStep(ctx, rec, stepModerate, func(ctx context.Context) (Verdict, error) {
		return w.judgeComment(ctx, commentID, plainText, post)
	})
	if err != nil {
		return err
	}

	// 任务超时只影响审核调用，已经得到的结论仍然要写回
	ctx, cancel := liveContext(ctx)
	defer cancel()

	applied, err := runStep(ctx, rec, stepUpdateStatus, func(ctx context.Context) (bool, error) {
		next := models.CommentStatusPending
		if verdict.Safe {
			next = models.CommentStatusPublished
		}
		reason := verdict.Reason
		return w.comments.TransitionStatus(ctx, commentID, models.CommentStatusVerifying, next, &reason)
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[moderation] comment %d changed status during moderation, verdict not applied", commentID)
		return w.runs.Complete(ctx, commentID)
	}
	log.Printf("[moderation] comment %d: safe=%v reason=%q", commentID, verdict.Safe, verdict.Reason)

	if verdict.Safe && comment.IsReply() {
		w.notify(ctx, rec, comment, post)
	}

	return w.runs.Complete(ctx, commentID)
}

func (w *ModerationWorkflow) fetchPost(ctx context.Context, postID uint) *models.Post {
	post, err := w.posts.FindByID(ctx, postID)
	if err != nil {
		log.Printf("[moderation] post %d unavailable, skipping: %v", postID, err)
		return nil
	}
	return post
}

// judgeComment 失败时按不安全处理，绝不自动放行
func (w *ModerationWorkflow) judgeComment(ctx context.Context, commentID uint, text string, post *models.Post) (Verdict, error) {
	if w.judge == nil {
		return Verdict{Safe: false, Reason: ReasonJudgeUnavailable}, nil
	}

	input := ModerationInput{
		Comment:     text,
		PostTitle:   post.Title,
		PostSummary: utils.MarkdownToPlainText(post.Summary),
	}

	judgeCtx, cancel := ctx, context.CancelFunc(func() {})
	if budget := w.retry.Budget(); budget > 0 {
		judgeCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	var verdict Verdict
	attempt := 0
	err := w.retry.Do(judgeCtx, func(ctx context.Context) error {
		attempt++
		v, err := w.judge.Moderate(ctx, input)
		if err != nil {
			log.Printf("⚠️ [moderation] comment %d: judge attempt %d failed: %v", commentID, attempt, err)
			return err
		}
		verdict = v
		return nil
	})
	// 只有关机取消才放弃本次审核，超时和重试耗尽都按不安全处理
	if errors.Is(ctx.Err(), context.Canceled) {
		return Verdict{}, ctx.Err()
	}
	if err != nil {
		log.Printf("❌ [moderation] comment %d: judge unavailable, falling back to manual review: %v", commentID, err)
		return Verdict{Safe: false, Reason: ReasonJudgeUnavailable}, nil
	}
	return verdict, nil
}

// notify 通知失败只记日志，不影响已经生效的状态
func (w *ModerationWorkflow) notify(ctx context.Context, rec *stepRecorder, comment *models.Comment, post *models.Post) {
	_, err := runStep(ctx, rec, stepNotify, func(ctx context.Context) (bool, error) {
		if err := w.notifier.SendReplyNotification(ctx, comment, post); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		log.Printf("❌ [moderation] comment %d: reply notification failed: %v", comment.ID, err)
	}
}

// liveContext 在任务超时后返回一个脱离原截止时间的短时上下文，用于写回结果；
// 被取消的上下文原样返回
func liveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	}
	return ctx, func() {}
}

// notificationInterrupted 判断上次运行是否在发布之后、通知之前中断
func (w *ModerationWorkflow) notificationInterrupted(run *models.ModerationRun, comment *models.Comment) bool {
	if run.CompletedAt != nil || run.HasStep(stepNotify) || !comment.IsReply() {
		return false
	}
	if comment.Status != models.CommentStatusPublished {
		return false
	}
	raw, ok := run.Steps[stepModerate]
	if !ok {
		return false
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v.Safe
}
