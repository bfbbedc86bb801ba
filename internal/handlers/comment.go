package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/services"

	"github.com/gin-gonic/gin"
)

type commentService interface {
	Create(ctx context.Context, actor services.Actor, in services.CreateCommentInput) (*models.Comment, error)
	Delete(ctx context.Context, actor services.Actor, id uint) error
	GetRootComments(ctx context.Context, postID uint, viewerID *uint, p repository.Pagination) (*services.Page[services.RootCommentItem], error)
	GetReplies(ctx context.Context, postID, rootID uint, viewerID *uint, p repository.Pagination) (*services.Page[models.Comment], error)
	GetMyComments(ctx context.Context, actor services.Actor, status *models.CommentStatus, p repository.Pagination) (*services.Page[models.Comment], error)
}

type CommentHandler struct {
	comments commentService
}

func NewCommentHandler(comments commentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type createCommentRequest struct {
	Content          json.RawMessage `json:"content"`
	RootID           *uint           `json:"root_id"`
	ReplyToCommentID *uint           `json:"reply_to_comment_id"`
}

// ListRoots 文章下的根评论
func (h *CommentHandler) ListRoots(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	page, err := h.comments.GetRootComments(c.Request.Context(), postID, viewerID(c), pagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListReplies 某条根评论下的回复
func (h *CommentHandler) ListReplies(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	rootID, ok := paramID(c, "rootId")
	if !ok {
		return
	}

	page, err := h.comments.GetReplies(c.Request.Context(), postID, rootID, viewerID(c), pagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Create 发表评论
func (h *CommentHandler) Create(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if len(req.Content) == 0 || string(req.Content) == "null" {
		badRequest(c, "content is required")
		return
	}

	comment, err := h.comments.Create(c.Request.Context(), currentActor(c), services.CreateCommentInput{
		PostID:           postID,
		Content:          req.Content,
		RootID:           req.RootID,
		ReplyToCommentID: req.ReplyToCommentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// Delete 作者删除自己的评论（软删除）
func (h *CommentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.comments.Delete(c.Request.Context(), currentActor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListMine 当前用户的评论
func (h *CommentHandler) ListMine(c *gin.Context) {
	var status *models.CommentStatus
	if s := c.Query("status"); s != "" {
		st := models.CommentStatus(s)
		status = &st
	}

	page, err := h.comments.GetMyComments(c.Request.Context(), currentActor(c), status, pagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
