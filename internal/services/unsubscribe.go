package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
)

// GenerateUnsubscribeToken 对 "{userId}:{type}" 做 HMAC-SHA256，输出无填充的 base64url
func GenerateUnsubscribeToken(secret string, userID uint, t models.UnsubscribeType) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatUint(uint64(userID), 10) + ":" + string(t)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyUnsubscribeToken(secret string, userID uint, t models.UnsubscribeType, token string) bool {
	expected := GenerateUnsubscribeToken(secret, userID, t)
	return hmac.Equal([]byte(expected), []byte(token))
}

// UnsubscribeURL 生成邮件中的一键退订链接
func UnsubscribeURL(domain, secret string, userID uint, t models.UnsubscribeType) string {
	return fmt.Sprintf("https://%s/unsubscribe?userId=%d&type=%s&token=%s",
		domain, userID, url.QueryEscape(string(t)), GenerateUnsubscribeToken(secret, userID, t))
}

type UnsubscribeService struct {
	repo   repository.UnsubscribeRepository
	secret string
}

func NewUnsubscribeService(repo repository.UnsubscribeRepository, secret string) *UnsubscribeService {
	return &UnsubscribeService{repo: repo, secret: secret}
}

// Unsubscribe 校验签名后记录退订，重复退订视为成功
func (s *UnsubscribeService) Unsubscribe(ctx context.Context, userID uint, t models.UnsubscribeType, token string) error {
	if userID == 0 || !t.Valid() || !VerifyUnsubscribeToken(s.secret, userID, t, token) {
		return ErrInvalidUnsubscribeToken
	}
	if err := s.repo.Unsubscribe(ctx, userID, t); err != nil {
		return err
	}
	return nil
}
