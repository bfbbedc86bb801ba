package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepBatchSize = 100

type staleCommentFinder interface {
	ListStaleVerifying(ctx context.Context, before time.Time, limit int) ([]uint, error)
}

// ModerationSweeper 定时把长时间停留在 verifying 的评论重新交给审核队列
type ModerationSweeper struct {
	cron       *cron.Cron
	comments   staleCommentFinder
	scheduler  ModerationScheduler
	staleAfter time.Duration
	now        func() time.Time
}

func NewModerationSweeper(comments staleCommentFinder, scheduler ModerationScheduler, staleAfter time.Duration) *ModerationSweeper {
	c := cron.New(
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)
	return &ModerationSweeper{
		cron:       c,
		comments:   comments,
		scheduler:  scheduler,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Start 按 cron 表达式启动巡检，例如 "@every 1m"
func (s *ModerationSweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Printf("❌ [sweeper] %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Printf("[sweeper] started with schedule %s", schedule)
	return nil
}

func (s *ModerationSweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep 执行一次巡检，返回重新调度的评论数
func (s *ModerationSweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.comments.ListStaleVerifying(ctx, s.now().Add(-s.staleAfter), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, id := range ids {
		if err := s.scheduler.Schedule(ctx, id); err != nil {
			log.Printf("⚠️ [sweeper] reschedule comment %d: %v", id, err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		log.Printf("[sweeper] rescheduled %d stale comments", scheduled)
	}
	return scheduled, nil
}
