package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
)

type commentFinder interface {
	FindByID(ctx context.Context, id uint) (*models.Comment, error)
}

// ReplyTarget 是校验后确定的楼层位置
type ReplyTarget struct {
	RootID           *uint
	ReplyToCommentID *uint
}

// ReplyTreeValidator 保证评论树只有两层：根评论和它的直接回复
type ReplyTreeValidator struct {
	comments commentFinder
}

func NewReplyTreeValidator(comments commentFinder) *ReplyTreeValidator {
	return &ReplyTreeValidator{comments: comments}
}

func (v *ReplyTreeValidator) Validate(ctx context.Context, postID uint, rootID, replyToID *uint) (ReplyTarget, error) {
	rootID = nonZero(rootID)
	replyToID = nonZero(replyToID)

	if rootID == nil {
		if replyToID != nil {
			return ReplyTarget{}, ErrRootCommentCannotHaveReplyTo
		}
		return ReplyTarget{}, nil
	}

	root, err := v.lookup(ctx, *rootID)
	if err != nil {
		return ReplyTarget{}, err
	}
	if root == nil {
		return ReplyTarget{}, ErrRootCommentNotFound
	}
	if root.RootID != nil {
		return ReplyTarget{}, ErrInvalidRootID
	}
	if root.PostID != postID {
		return ReplyTarget{}, ErrRootCommentPostMismatch
	}

	if replyToID == nil {
		return ReplyTarget{RootID: rootID, ReplyToCommentID: uintPtr(*rootID)}, nil
	}

	replyTo, err := v.lookup(ctx, *replyToID)
	if err != nil {
		return ReplyTarget{}, err
	}
	if replyTo == nil {
		return ReplyTarget{}, ErrReplyToCommentNotFound
	}
	if replyTo.ThreadRootID() != *rootID {
		return ReplyTarget{}, ErrReplyToCommentRootMismatch
	}

	return ReplyTarget{RootID: rootID, ReplyToCommentID: replyToID}, nil
}

func (v *ReplyTreeValidator) lookup(ctx context.Context, id uint) (*models.Comment, error) {
	c, err := v.comments.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load comment %d: %w", id, err)
	}
	return c, nil
}

func nonZero(id *uint) *uint {
	if id == nil || *id == 0 {
		return nil
	}
	return id
}

func uintPtr(v uint) *uint {
	return &v
}
