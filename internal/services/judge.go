package services

import (
	"context"
	"errors"
	"time"
)

var ErrJudgeNotConfigured = errors.New("moderation judge not configured")

const devAutoApproveReason = "development environment, auto-approved"

type ModerationInput struct {
	Comment     string
	PostTitle   string
	PostSummary string
}

type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// Judge 是外部内容审核服务
type Judge interface {
	Moderate(ctx context.Context, input ModerationInput) (Verdict, error)
}

// DevJudge 非生产环境使用，全部放行
type DevJudge struct{}

func (DevJudge) Moderate(context.Context, ModerationInput) (Verdict, error) {
	return Verdict{Safe: true, Reason: devAutoApproveReason}, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不应重试的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy 指数退避：第 n 次重试前等待 Delay * 2^(n-1)。
// AttemptTimeout 大于 0 时限制单次调用的时长。
type RetryPolicy struct {
	Limit          int
	Delay          time.Duration
	AttemptTimeout time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

var DefaultRetryPolicy = RetryPolicy{Limit: 3, Delay: 5 * time.Second, AttemptTimeout: defaultLLMTimeout}

// Budget 返回全部尝试加退避的最长耗时，未设置 AttemptTimeout 时返回 0
func (p RetryPolicy) Budget() time.Duration {
	if p.AttemptTimeout <= 0 {
		return 0
	}
	total := time.Duration(p.Limit+1) * p.AttemptTimeout
	delay := p.Delay
	for i := 0; i < p.Limit; i++ {
		total += delay
		delay *= 2
	}
	return total
}

func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.Delay
	var err error
	for attempt := 0; ; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || attempt >= p.Limit {
			return err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
