package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/wmjx/flare-stack-blog/internal/middleware"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/services"
	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/gin-gonic/gin"
)

var errInvalidID = &services.DomainError{Status: http.StatusBadRequest, Code: "INVALID_ID", Message: "invalid id"}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(status, response)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "server error", nil
}

// respondError 把业务错误映射为 JSON 响应，未知错误只记录日志不外泄
func respondError(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	writeError(c, status, code, message, details)
}

func badRequest(c *gin.Context, message string) {
	writeError(c, http.StatusBadRequest, "INVALID_BODY", message, nil)
}

// paramID 解析路径中的正整数 ID
func paramID(c *gin.Context, name string) (uint, bool) {
	id := utils.StringToUintPtr(c.Param(name))
	if id == nil {
		respondError(c, errInvalidID)
		return 0, false
	}
	return *id, true
}

func pagination(c *gin.Context) repository.Pagination {
	return repository.Pagination{
		Offset: utils.StringToInt(c.Query("offset")),
		Limit:  utils.StringToInt(c.Query("limit")),
	}.Normalize()
}

// currentActor 读取 LoadUser 放入的用户，未登录返回零值
func currentActor(c *gin.Context) services.Actor {
	user := middleware.CurrentUser(c)
	if user == nil {
		return services.Actor{}
	}
	return services.Actor{ID: user.ID, Name: user.Name, Admin: user.IsAdmin()}
}

func viewerID(c *gin.Context) *uint {
	user := middleware.CurrentUser(c)
	if user == nil {
		return nil
	}
	id := user.ID
	return &id
}
