package services

import (
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrRootCommentNotFound          = domainError(http.StatusUnprocessableEntity, "ROOT_COMMENT_NOT_FOUND", "root comment not found", nil)
	ErrInvalidRootID                = domainError(http.StatusUnprocessableEntity, "INVALID_ROOT_ID", "root comment is itself a reply", nil)
	ErrRootCommentPostMismatch      = domainError(http.StatusUnprocessableEntity, "ROOT_COMMENT_POST_MISMATCH", "root comment belongs to another post", nil)
	ErrReplyToCommentNotFound       = domainError(http.StatusUnprocessableEntity, "REPLY_TO_COMMENT_NOT_FOUND", "reply-to comment not found", nil)
	ErrReplyToCommentRootMismatch   = domainError(http.StatusUnprocessableEntity, "REPLY_TO_COMMENT_ROOT_MISMATCH", "reply-to comment is in another thread", nil)
	ErrRootCommentCannotHaveReplyTo = domainError(http.StatusUnprocessableEntity, "ROOT_COMMENT_CANNOT_HAVE_REPLY_TO", "a root comment cannot reply to another comment", nil)
	ErrCommentNotFound              = domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "comment not found", nil)
	ErrPermissionDenied             = domainError(http.StatusForbidden, "PERMISSION_DENIED", "permission denied", nil)

	ErrPostNotFound            = domainError(http.StatusNotFound, "POST_NOT_FOUND", "post not found", nil)
	ErrInvalidStatus           = domainError(http.StatusUnprocessableEntity, "INVALID_STATUS", "status must be published or pending", nil)
	ErrInvalidUnsubscribeToken = domainError(http.StatusForbidden, "INVALID_UNSUBSCRIBE_TOKEN", "invalid unsubscribe link", nil)
	ErrInvalidCredentials      = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
)

// ErrorCode 返回错误对应的稳定错误码，非业务错误返回空串
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
