package middleware

import (
	"context"
	"net/http"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	CheckUserKey  = "user"
	SessionUserID = "user_id"
)

type userFinder interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// LoadUser 从 session 读取当前用户并放入上下文，未登录时什么都不做
func LoadUser(users userFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if userID, ok := session.Get(SessionUserID).(uint); ok && userID != 0 {
			user, err := users.FindByID(c.Request.Context(), userID)
			if err == nil {
				c.Set(CheckUserKey, user)
			}
		}
		c.Next()
	}
}

// AuthRequired 要求已登录
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "login required"})
			return
		}
		c.Next()
	}
}

// AdminRequired 要求管理员身份，需在 AuthRequired 之后使用
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "PERMISSION_DENIED", "error": "admin only"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(CheckUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
