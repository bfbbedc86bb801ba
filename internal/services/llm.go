package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const moderationPrompt = `你是一个博客评论审核员。根据文章标题和摘要判断读者评论是否可以公开展示。
垃圾广告、辱骂、人身攻击、色情、违法内容以及与文章完全无关的引流内容都视为不安全。
只输出 JSON：{"safe": true 或 false, "reason": "简短的中文理由"}`

type LLMConfig struct {
	BaseURL string
	Token   string
	Model   string
	Timeout time.Duration
}

const defaultLLMTimeout = 30 * time.Second

// LLMJudge 调用 OpenAI 兼容的 chat completions 接口做评论审核
type LLMJudge struct {
	cfg    LLMConfig
	client *http.Client
}

func NewLLMJudge(cfg LLMConfig) *LLMJudge {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	return &LLMJudge{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model          string            `json:"model"`
	Messages       []ChatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (j *LLMJudge) Configured() bool {
	return j.cfg.BaseURL != "" && j.cfg.Token != ""
}

func (j *LLMJudge) Moderate(ctx context.Context, input ModerationInput) (Verdict, error) {
	if !j.Configured() {
		return Verdict{}, Permanent(ErrJudgeNotConfigured)
	}

	user := fmt.Sprintf("文章标题：%s\n文章摘要：%s\n\n待审核评论：\n%s", input.PostTitle, input.PostSummary, input.Comment)
	reqBody, err := json.Marshal(ChatRequest{
		Model: j.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: moderationPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Verdict{}, Permanent(fmt.Errorf("marshal chat request: %w", err))
	}

	url := strings.TrimRight(j.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return Verdict{}, Permanent(fmt.Errorf("build chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.cfg.Token)

	resp, err := j.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("call moderation model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("moderation model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Verdict{}, err
		}
		return Verdict{}, Permanent(err)
	}

	var chat ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Verdict{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Verdict{}, fmt.Errorf("moderation model returned no choices")
	}

	return parseVerdict(chat.Choices[0].Message.Content)
}

func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict %q: %w", content, err)
	}
	if v.Reason == "" {
		if v.Safe {
			v.Reason = "审核通过"
		} else {
			v.Reason = "审核未通过"
		}
	}
	return v, nil
}
