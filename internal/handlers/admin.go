package handlers

import (
	"context"
	"net/http"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/services"
	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/gin-gonic/gin"
)

type adminCommentService interface {
	GetAllComments(ctx context.Context, q repository.AdminCommentQuery) (*services.Page[models.Comment], error)
	FindByID(ctx context.Context, id uint) (*models.Comment, error)
	Moderate(ctx context.Context, actor services.Actor, id uint, status models.CommentStatus) (*models.Comment, error)
	AdminDelete(ctx context.Context, actor services.Actor, id uint) error
	GetUserStats(ctx context.Context, userID uint) (*repository.UserCommentStats, error)
}

// AdminHandler 后台评论管理，路由层已保证管理员身份
type AdminHandler struct {
	comments adminCommentService
}

func NewAdminHandler(comments adminCommentService) *AdminHandler {
	return &AdminHandler{comments: comments}
}

type moderateRequest struct {
	Status models.CommentStatus `json:"status"`
}

// ListComments 全部评论，支持 status/post_id/user_id/user_name 过滤
func (h *AdminHandler) ListComments(c *gin.Context) {
	q := repository.AdminCommentQuery{
		Pagination: pagination(c),
		PostID:     utils.StringToUintPtr(c.Query("post_id")),
		UserID:     utils.StringToUintPtr(c.Query("user_id")),
		UserName:   c.Query("user_name"),
	}
	if s := c.Query("status"); s != "" {
		st := models.CommentStatus(s)
		q.Status = &st
	}

	page, err := h.comments.GetAllComments(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) GetComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	comment, err := h.comments.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

// Moderate 手动审核：published 或 pending
func (h *AdminHandler) Moderate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	comment, err := h.comments.Moderate(c.Request.Context(), currentActor(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

// DeleteComment 物理删除
func (h *AdminHandler) DeleteComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.comments.AdminDelete(c.Request.Context(), currentActor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AdminHandler) UserStats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	stats, err := h.comments.GetUserStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
