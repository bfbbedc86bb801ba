package handlers

import (
	"context"
	"net/http"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/gin-gonic/gin"
)

type unsubscribeService interface {
	Unsubscribe(ctx context.Context, userID uint, t models.UnsubscribeType, token string) error
}

// UnsubscribeHandler 处理邮件中的退订链接，GET 为点击链接，POST 为 RFC 8058 一键退订
type UnsubscribeHandler struct {
	unsubscribes unsubscribeService
}

func NewUnsubscribeHandler(unsubscribes unsubscribeService) *UnsubscribeHandler {
	return &UnsubscribeHandler{unsubscribes: unsubscribes}
}

func (h *UnsubscribeHandler) Unsubscribe(c *gin.Context) {
	var userID uint
	if id := utils.StringToUintPtr(c.Query("userId")); id != nil {
		userID = *id
	}
	t := models.UnsubscribeType(c.Query("type"))

	if err := h.unsubscribes.Unsubscribe(c.Request.Context(), userID, t, c.Query("token")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "type": t})
}
