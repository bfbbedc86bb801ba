package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueFull 本地队列已满，评论保持 verifying，等待巡检重新调度
var ErrQueueFull = errors.New("moderation queue is full")

const (
	pendingTTL   = 15 * time.Minute
	errorBackoff = time.Second
)

// defaultJobTimeout 覆盖审核调用的全部重试，并留出落库时间
var defaultJobTimeout = DefaultRetryPolicy.Budget() + time.Minute

// ModerationScheduler 把评论交给异步审核
type ModerationScheduler interface {
	Schedule(ctx context.Context, commentID uint) error
}

type ModerationHandler func(ctx context.Context, commentID uint) error

// LocalQueue 进程内审核队列，同一评论排队期间只入队一次
type LocalQueue struct {
	queue      chan uint
	pending    map[uint]bool
	mu         sync.Mutex
	handler    ModerationHandler
	jobTimeout time.Duration
	wg         sync.WaitGroup
}

func NewLocalQueue(size int, handler ModerationHandler) *LocalQueue {
	if size <= 0 {
		size = 1000
	}
	return &LocalQueue{
		queue:      make(chan uint, size),
		pending:    make(map[uint]bool),
		handler:    handler,
		jobTimeout: defaultJobTimeout,
	}
}

func (q *LocalQueue) Schedule(ctx context.Context, commentID uint) error {
	q.mu.Lock()
	if q.pending[commentID] {
		q.mu.Unlock()
		return nil
	}
	q.pending[commentID] = true
	q.mu.Unlock()

	select {
	case q.queue <- commentID:
		return nil
	default:
		q.mu.Lock()
		delete(q.pending, commentID)
		q.mu.Unlock()
		log.Printf("⚠️ [moderation] queue full, comment %d left for the sweeper", commentID)
		return ErrQueueFull
	}
}

// Start 启动 workers 个消费者，ctx 结束后退出
func (q *LocalQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.queue:
					q.process(ctx, id)
				}
			}
		}()
	}
}

// Wait 等待所有 worker 退出
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

func (q *LocalQueue) process(ctx context.Context, commentID uint) {
	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	if err := q.handler(jobCtx, commentID); err != nil {
		log.Printf("❌ [moderation] comment %d failed: %v", commentID, err)
	}

	q.mu.Lock()
	delete(q.pending, commentID)
	q.mu.Unlock()
}

// RedisQueue 用 Redis 列表做跨进程审核队列。
// 排队标记带过期时间，进程崩溃后巡检仍能重新入队。
type RedisQueue struct {
	client        *redis.Client
	handler       ModerationHandler
	queueKey      string
	pendingPrefix string
	jobTimeout    time.Duration
	wg            sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, handler ModerationHandler) *RedisQueue {
	return &RedisQueue{
		client:        client,
		handler:       handler,
		queueKey:      "moderation:queue",
		pendingPrefix: "moderation:pending:",
		jobTimeout:    defaultJobTimeout,
	}
}

func (q *RedisQueue) pendingKey(commentID uint) string {
	return q.pendingPrefix + strconv.FormatUint(uint64(commentID), 10)
}

func (q *RedisQueue) Schedule(ctx context.Context, commentID uint) error {
	ok, err := q.client.SetNX(ctx, q.pendingKey(commentID), time.Now().Unix(), pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("mark comment %d pending: %w", commentID, err)
	}
	if !ok {
		return nil
	}

	if err := q.client.RPush(ctx, q.queueKey, commentID).Err(); err != nil {
		q.clearPending(ctx, commentID)
		return fmt.Errorf("enqueue comment %d: %w", commentID, err)
	}
	return nil
}

func (q *RedisQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				if _, err := q.ProcessNext(ctx, 5*time.Second); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("❌ [moderation] queue error: %v", err)
					if sleepContext(ctx, errorBackoff) != nil {
						return
					}
				}
			}
		}()
	}
}

func (q *RedisQueue) Wait() {
	q.wg.Wait()
}

// ProcessNext 取出一条评论并审核，队列为空时返回 false
func (q *RedisQueue) ProcessNext(ctx context.Context, timeout time.Duration) (bool, error) {
	res, err := q.client.BLPop(ctx, timeout, q.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop comment: %w", err)
	}

	id, err := strconv.ParseUint(res[1], 10, 64)
	if err != nil {
		log.Printf("❌ [moderation] dropping malformed queue entry %q", res[1])
		return true, nil
	}
	commentID := uint(id)

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()
	if err := q.handler(jobCtx, commentID); err != nil {
		log.Printf("❌ [moderation] comment %d failed: %v", commentID, err)
	}

	q.clearPending(context.WithoutCancel(ctx), commentID)
	return true, nil
}

// clearPending 失败时标记会在 pendingTTL 后自行过期
func (q *RedisQueue) clearPending(ctx context.Context, commentID uint) {
	if err := q.client.Del(ctx, q.pendingKey(commentID)).Err(); err != nil {
		log.Printf("⚠️ [moderation] clear pending marker for comment %d: %v", commentID, err)
	}
}
