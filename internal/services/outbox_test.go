package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeSender 记录发送的邮件，可按次数注入失败
type fakeSender struct {
	mu       sync.Mutex
	sent     []Email
	failures int
}

func (s *fakeSender) Send(email Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, email)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// memoryLedger 模拟 notification_deliveries 表
type memoryLedger struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{keys: map[string]bool{}}
}

func (l *memoryLedger) Reserve(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.keys[key] {
		return false, nil
	}
	l.keys[key] = true
	return true, nil
}

func (l *memoryLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
	return nil
}

func (l *memoryLedger) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[key]
}

func setupRedisOutbox(t *testing.T) (*RedisOutbox, *fakeSender, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	sender := &fakeSender{}
	return NewRedisOutbox(client, sender, newMemoryLedger()), sender, s
}

func TestRedisOutboxDedupe(t *testing.T) {
	outbox, sender, s := setupRedisOutbox(t)
	ctx := context.Background()

	email := Email{DedupeKey: ReplyDedupeKey(7), To: "a@example.com", Subject: "hi", HTML: "<p>hi</p>"}
	if err := outbox.Enqueue(ctx, email); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := outbox.Enqueue(ctx, email); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
	}
	if ttl := s.TTL("mail:dedupe:notification-reply-7"); ttl != dedupeTTL {
		t.Errorf("dedupe key TTL = %v, want %v", ttl, dedupeTTL)
	}

	processed, err := outbox.ProcessNext(ctx, 100*time.Millisecond)
	if err != nil || !processed {
		t.Fatalf("ProcessNext: processed=%v err=%v", processed, err)
	}
	processed, err = outbox.ProcessNext(ctx, 100*time.Millisecond)
	if err != nil || processed {
		t.Fatalf("queue should be empty: processed=%v err=%v", processed, err)
	}
	if sender.count() != 1 {
		t.Errorf("expected 1 mail sent, got %d", sender.count())
	}
}

func TestRedisOutboxWithoutKeyIsNotDeduped(t *testing.T) {
	outbox, _, s := setupRedisOutbox(t)
	ctx := context.Background()

	email := Email{To: "admin@example.com", Subject: "[新评论] t"}
	for i := 0; i < 2; i++ {
		if err := outbox.Enqueue(ctx, email); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}
	items, err := s.List("mail:queue")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 queued mails, got %d", len(items))
	}
}

func TestRedisOutboxRequeuesFailedSends(t *testing.T) {
	outbox, sender, _ := setupRedisOutbox(t)
	ctx := context.Background()
	sender.failures = 1

	if err := outbox.Enqueue(ctx, Email{To: "a@example.com", Subject: "hi"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := outbox.ProcessNext(ctx, 100*time.Millisecond); err != nil {
			t.Fatalf("ProcessNext: %v", err)
		}
	}
	if sender.count() != 1 {
		t.Errorf("mail should succeed on second attempt, sent %d", sender.count())
	}
}

func TestRedisOutboxGivesUp(t *testing.T) {
	outbox, sender, s := setupRedisOutbox(t)
	ctx := context.Background()
	sender.failures = 100

	if err := outbox.Enqueue(ctx, Email{To: "a@example.com", Subject: "hi"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxDeliverAttempts; i++ {
		if _, err := outbox.ProcessNext(ctx, 100*time.Millisecond); err != nil {
			t.Fatalf("ProcessNext: %v", err)
		}
	}
	if s.Exists("mail:queue") {
		t.Error("mail should be dropped after max attempts")
	}
}

func TestLocalOutbox(t *testing.T) {
	cache, err := utils.NewCache(100)
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	outbox := NewLocalOutbox(sender, cache, newMemoryLedger())
	ctx := context.Background()

	email := Email{DedupeKey: ReplyDedupeKey(1), To: "a@example.com", Subject: "hi"}
	if err := outbox.Enqueue(ctx, email); err != nil {
		t.Fatal(err)
	}
	if err := outbox.Enqueue(ctx, email); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
	}
	if err := outbox.Enqueue(ctx, Email{To: "admin@example.com", Subject: "no key"}); err != nil {
		t.Fatal(err)
	}

	outbox.Wait()
	if sender.count() != 2 {
		t.Errorf("expected 2 mails sent, got %d", sender.count())
	}
}

func TestLocalOutboxDedupeSurvivesEviction(t *testing.T) {
	cache, err := utils.NewCache(4)
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	ledger := newMemoryLedger()
	outbox := NewLocalOutbox(sender, cache, ledger)
	ctx := context.Background()

	reply := Email{DedupeKey: ReplyDedupeKey(1), To: "alice@example.com", Subject: "reply"}
	if err := outbox.Enqueue(ctx, reply); err != nil {
		t.Fatal(err)
	}
	// 挤掉缓存里的 notification-reply-1
	for id := uint(100); id < 110; id++ {
		if err := outbox.Enqueue(ctx, Email{DedupeKey: ReplyDedupeKey(id), To: "bob@example.com"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := outbox.Enqueue(ctx, reply); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("re-enqueue after eviction: expected ErrDuplicateDelivery, got %v", err)
	}

	// 进程重启：新的缓存，同一张表
	fresh, err := utils.NewCache(4)
	if err != nil {
		t.Fatal(err)
	}
	restarted := NewLocalOutbox(sender, fresh, ledger)
	if err := restarted.Enqueue(ctx, reply); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("re-enqueue after restart: expected ErrDuplicateDelivery, got %v", err)
	}

	outbox.Wait()
	restarted.Wait()
	if got := sender.count(); got != 11 {
		t.Errorf("expected 11 mails sent, got %d", got)
	}
}

func TestLocalOutboxLedgerError(t *testing.T) {
	cache, err := utils.NewCache(10)
	if err != nil {
		t.Fatal(err)
	}
	ledger := newMemoryLedger()
	ledger.err = errors.New("db down")
	sender := &fakeSender{}
	outbox := NewLocalOutbox(sender, cache, ledger)

	if err := outbox.Enqueue(context.Background(), Email{DedupeKey: ReplyDedupeKey(1), To: "a@example.com"}); err == nil || errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected a ledger error, got %v", err)
	}
	outbox.Wait()
	if sender.count() != 0 {
		t.Error("nothing should be sent when the key cannot be recorded")
	}
}

func TestRedisOutboxDedupeSurvivesExpiry(t *testing.T) {
	outbox, sender, s := setupRedisOutbox(t)
	ctx := context.Background()

	email := Email{DedupeKey: ReplyDedupeKey(7), To: "a@example.com", Subject: "hi"}
	if err := outbox.Enqueue(ctx, email); err != nil {
		t.Fatal(err)
	}
	s.FastForward(dedupeTTL + time.Hour)
	if s.Exists("mail:dedupe:notification-reply-7") {
		t.Fatal("redis dedupe key should have expired")
	}

	if err := outbox.Enqueue(ctx, email); !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery after expiry, got %v", err)
	}
	for {
		processed, err := outbox.ProcessNext(ctx, 50*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if !processed {
			break
		}
	}
	if sender.count() != 1 {
		t.Errorf("expected 1 mail sent, got %d", sender.count())
	}
}

func TestRedisOutboxReleasesKeyWhenLedgerFails(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	ledger := newMemoryLedger()
	ledger.err = errors.New("db down")
	outbox := NewRedisOutbox(client, &fakeSender{}, ledger)
	ctx := context.Background()

	email := Email{DedupeKey: ReplyDedupeKey(3), To: "a@example.com"}
	if err := outbox.Enqueue(ctx, email); err == nil {
		t.Fatal("expected ledger error")
	}
	if s.Exists("mail:dedupe:notification-reply-3") {
		t.Error("redis key should be released so a later enqueue can retry")
	}

	ledger.err = nil
	if err := outbox.Enqueue(ctx, email); err != nil {
		t.Fatalf("retry after ledger recovers: %v", err)
	}
	if !ledger.has(ReplyDedupeKey(3)) {
		t.Error("ledger should record the key")
	}
}

func TestRedisOutboxRunStopsDuringErrorBackoff(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	s.Close()

	outbox := NewRedisOutbox(client, &fakeSender{}, newMemoryLedger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		outbox.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("outbox worker did not stop during error backoff")
	}
}
