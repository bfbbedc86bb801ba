package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicateDelivery 表示相同去重键的邮件已经投递过，调用方应视为成功
var ErrDuplicateDelivery = errors.New("duplicate delivery key")

const (
	dedupeTTL          = 30 * 24 * time.Hour
	maxDeliverAttempts = 3
)

type Email struct {
	DedupeKey string            `json:"dedupe_key,omitempty"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	Headers   map[string]string `json:"headers,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
}

// Outbox 是邮件投递端口。带 DedupeKey 的邮件重复入队返回 ErrDuplicateDelivery。
type Outbox interface {
	Enqueue(ctx context.Context, email Email) error
}

type mailSender interface {
	Send(email Email) error
}

// deliveryLedger 是去重键的持久记录，缓存被淘汰或进程重启后依然有效
type deliveryLedger interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalOutbox 进程内投递，LRU 缓存挡住热点重复，去重以 ledger 为准，异步发送
type LocalOutbox struct {
	sender     mailSender
	cache      *utils.GlobalCache
	deliveries deliveryLedger
	wg         sync.WaitGroup
}

func NewLocalOutbox(sender mailSender, cache *utils.GlobalCache, deliveries deliveryLedger) *LocalOutbox {
	return &LocalOutbox{sender: sender, cache: cache, deliveries: deliveries}
}

func (o *LocalOutbox) Enqueue(ctx context.Context, email Email) error {
	if email.DedupeKey != "" {
		if err := o.reserve(ctx, email.DedupeKey); err != nil {
			return err
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sender.Send(email); err != nil {
			log.Printf("❌ [mail] Failed to send email to %s: %v", email.To, err)
		}
	}()
	return nil
}

func (o *LocalOutbox) reserve(ctx context.Context, key string) error {
	cacheKey := "mail:dedupe:" + key
	if o.cache.Get(cacheKey) != nil {
		return ErrDuplicateDelivery
	}
	if o.deliveries != nil {
		ok, err := o.deliveries.Reserve(ctx, key)
		if err != nil {
			return fmt.Errorf("reserve dedupe key: %w", err)
		}
		if !ok {
			o.cache.Set(cacheKey, true, dedupeTTL)
			return ErrDuplicateDelivery
		}
	}
	if !o.cache.SetIfAbsent(cacheKey, true, dedupeTTL) {
		return ErrDuplicateDelivery
	}
	return nil
}

// Wait 等待所有已入队的邮件发送完成
func (o *LocalOutbox) Wait() {
	o.wg.Wait()
}

// RedisOutbox 用 Redis 列表做持久发件箱。SETNX 挡住近期重复，过期后由 ledger 兜底。
type RedisOutbox struct {
	client       *redis.Client
	sender       mailSender
	deliveries   deliveryLedger
	queueKey     string
	dedupePrefix string
}

func NewRedisOutbox(client *redis.Client, sender mailSender, deliveries deliveryLedger) *RedisOutbox {
	return &RedisOutbox{
		client:       client,
		sender:       sender,
		deliveries:   deliveries,
		queueKey:     "mail:queue",
		dedupePrefix: "mail:dedupe:",
	}
}

func (o *RedisOutbox) Enqueue(ctx context.Context, email Email) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	if email.DedupeKey != "" {
		if err := o.reserve(ctx, email.DedupeKey); err != nil {
			return err
		}
	}

	if err := o.client.RPush(ctx, o.queueKey, payload).Err(); err != nil {
		if email.DedupeKey != "" {
			o.release(context.WithoutCancel(ctx), email.DedupeKey)
		}
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

func (o *RedisOutbox) reserve(ctx context.Context, key string) error {
	redisKey := o.dedupePrefix + key
	ok, err := o.client.SetNX(ctx, redisKey, time.Now().Unix(), dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("reserve dedupe key: %w", err)
	}
	if !ok {
		return ErrDuplicateDelivery
	}
	if o.deliveries == nil {
		return nil
	}

	ok, err = o.deliveries.Reserve(ctx, key)
	if err != nil {
		o.clearKey(context.WithoutCancel(ctx), redisKey)
		return fmt.Errorf("reserve dedupe key: %w", err)
	}
	if !ok {
		return ErrDuplicateDelivery
	}
	return nil
}

// release 回滚 reserve，让下一次入队可以重试
func (o *RedisOutbox) release(ctx context.Context, key string) {
	o.clearKey(ctx, o.dedupePrefix+key)
	if o.deliveries == nil {
		return
	}
	if err := o.deliveries.Release(ctx, key); err != nil {
		log.Printf("⚠️ [mail] release dedupe key %s: %v", key, err)
	}
}

func (o *RedisOutbox) clearKey(ctx context.Context, redisKey string) {
	if err := o.client.Del(ctx, redisKey).Err(); err != nil {
		log.Printf("⚠️ [mail] delete %s: %v", redisKey, err)
	}
}

// Run 持续消费发件箱直到 ctx 结束
func (o *RedisOutbox) Run(ctx context.Context) {
	log.Println("[mail] outbox worker started")
	for {
		if _, err := o.ProcessNext(ctx, 5*time.Second); err != nil {
			if ctx.Err() != nil {
				log.Println("[mail] outbox worker stopped")
				return
			}
			log.Printf("❌ [mail] outbox error: %v", err)
			if sleepContext(ctx, errorBackoff) != nil {
				log.Println("[mail] outbox worker stopped")
				return
			}
		}
	}
}

// ProcessNext 取出一封邮件并发送，队列为空时返回 false
func (o *RedisOutbox) ProcessNext(ctx context.Context, timeout time.Duration) (bool, error) {
	res, err := o.client.BLPop(ctx, timeout, o.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop email: %w", err)
	}

	var email Email
	if err := json.Unmarshal([]byte(res[1]), &email); err != nil {
		log.Printf("❌ [mail] dropping malformed outbox entry: %v", err)
		return true, nil
	}

	if err := o.sender.Send(email); err != nil {
		email.Attempts++
		if email.Attempts >= maxDeliverAttempts {
			log.Printf("❌ [mail] giving up on %q to %s after %d attempts: %v", email.Subject, email.To, email.Attempts, err)
			return true, nil
		}
		log.Printf("⚠️ [mail] send failed (attempt %d), requeueing: %v", email.Attempts, err)
		payload, err := json.Marshal(email)
		if err != nil {
			return true, fmt.Errorf("marshal email for requeue: %w", err)
		}
		if err := o.client.RPush(ctx, o.queueKey, payload).Err(); err != nil {
			return true, fmt.Errorf("requeue email: %w", err)
		}
	}
	return true, nil
}
