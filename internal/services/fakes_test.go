package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/models"
	"github.com/wmjx/flare-stack-blog/internal/repository"
)

// memoryStore 是评论、用户、文章的内存实现
type memoryStore struct {
	mu       sync.Mutex
	nextID   uint
	comments map[uint]*models.Comment
	users    map[uint]*models.User
	posts    map[uint]*models.Post
	clock    time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		comments: map[uint]*models.Comment{},
		users:    map[uint]*models.User{},
		posts:    map[uint]*models.Post{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) addUser(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := u
	s.users[user.ID] = &user
	return &user
}

func (s *memoryStore) addPost(p models.Post) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	post := p
	s.posts[post.ID] = &post
	return &post
}

func (s *memoryStore) status(id uint) models.CommentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.comments[id]; ok {
		return c.Status
	}
	return ""
}

func (s *memoryStore) copyComment(c *models.Comment) *models.Comment {
	out := *c
	if u, ok := s.users[c.UserID]; ok {
		user := *u
		out.User = &user
	}
	return &out
}

func (s *memoryStore) Insert(ctx context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	comment.ID = s.nextID
	comment.CreatedAt = s.clock
	comment.UpdatedAt = s.clock
	stored := *comment
	stored.User = nil
	s.comments[stored.ID] = &stored
	return nil
}

func (s *memoryStore) FindByID(ctx context.Context, id uint) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.copyComment(c), nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id uint, status models.CommentStatus, aiReason *string) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Status = status
	if aiReason != nil {
		reason := *aiReason
		c.AIReason = &reason
	}
	return s.copyComment(c), nil
}

func (s *memoryStore) TransitionStatus(ctx context.Context, id uint, from, to models.CommentStatus, aiReason *string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if aiReason != nil {
		reason := *aiReason
		c.AIReason = &reason
	}
	return true, nil
}

func (s *memoryStore) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

func visible(c *models.Comment, v repository.Visibility) bool {
	if v.ViewerID != nil && c.UserID == *v.ViewerID {
		return true
	}
	if len(v.Statuses) == 0 {
		return true
	}
	for _, st := range v.Statuses {
		if c.Status == st {
			return true
		}
	}
	return false
}

func (s *memoryStore) filter(keep func(c *models.Comment) bool, desc bool) []models.Comment {
	var out []models.Comment
	for _, c := range s.comments {
		if keep(c) {
			out = append(out, *s.copyComment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func paginate(items []models.Comment, p repository.Pagination) ([]models.Comment, int64) {
	p = p.Normalize()
	total := int64(len(items))
	if p.Offset >= len(items) {
		return []models.Comment{}, total
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end], total
}

func (s *memoryStore) ListRootsByPost(ctx context.Context, postID uint, q repository.CommentListQuery) ([]models.Comment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		return c.PostID == postID && c.RootID == nil && visible(c, q.Visibility)
	}, true)
	page, total := paginate(items, q.Pagination)
	return page, total, nil
}

func (s *memoryStore) CountReplies(ctx context.Context, postID, rootID uint, v repository.Visibility) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		return c.PostID == postID && c.RootID != nil && *c.RootID == rootID && visible(c, v)
	}, false)
	return int64(len(items)), nil
}

func (s *memoryStore) ListRepliesByRoot(ctx context.Context, postID, rootID uint, q repository.CommentListQuery) ([]models.Comment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		return c.PostID == postID && c.RootID != nil && *c.RootID == rootID && visible(c, q.Visibility)
	}, false)
	page, total := paginate(items, q.Pagination)
	return page, total, nil
}

func (s *memoryStore) ListByUser(ctx context.Context, userID uint, status *models.CommentStatus, p repository.Pagination) ([]models.Comment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		return c.UserID == userID && (status == nil || c.Status == *status)
	}, true)
	page, total := paginate(items, p)
	return page, total, nil
}

func (s *memoryStore) ListAll(ctx context.Context, q repository.AdminCommentQuery) ([]models.Comment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		if q.Status != nil && c.Status != *q.Status {
			return false
		}
		if q.PostID != nil && c.PostID != *q.PostID {
			return false
		}
		if q.UserID != nil && c.UserID != *q.UserID {
			return false
		}
		if q.UserName != "" {
			u, ok := s.users[c.UserID]
			if !ok || !strings.Contains(strings.ToLower(u.Name), strings.ToLower(q.UserName)) {
				return false
			}
		}
		return true
	}, true)
	page, total := paginate(items, q.Pagination)
	return page, total, nil
}

func (s *memoryStore) ListStaleVerifying(ctx context.Context, before time.Time, limit int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filter(func(c *models.Comment) bool {
		return c.Status == models.CommentStatusVerifying && c.CreatedAt.Before(before)
	}, false)
	var ids []uint
	for _, c := range items {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *memoryStore) FindAuthor(ctx context.Context, commentID uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u, ok := s.users[c.UserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *u
	return &user, nil
}

func (s *memoryStore) UserStats(ctx context.Context, userID uint) (*repository.UserCommentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &repository.UserCommentStats{}
	for _, c := range s.comments {
		if c.UserID != userID {
			continue
		}
		stats.TotalComments++
		if c.Status == models.CommentStatusDeleted {
			stats.RejectedComments++
		}
	}
	if u, ok := s.users[userID]; ok {
		created := u.CreatedAt
		stats.RegisteredAt = &created
	}
	return stats, nil
}

// postStore 让 memoryStore 同时充当 PostRepository
type postStore struct{ s *memoryStore }

func (p postStore) FindByID(ctx context.Context, id uint) (*models.Post, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	post, ok := p.s.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *post
	return &out, nil
}

type userStore struct{ s *memoryStore }

func (u userStore) FindByID(ctx context.Context, id uint) (*models.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Email == email {
			out := *user
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeUnsubscribes struct {
	mu    sync.Mutex
	opted map[string]bool
	err   error
}

func newFakeUnsubscribes() *fakeUnsubscribes {
	return &fakeUnsubscribes{opted: map[string]bool{}}
}

func unsubKey(userID uint, t models.UnsubscribeType) string {
	return fmt.Sprintf("%d:%s", userID, t)
}

func (f *fakeUnsubscribes) IsUnsubscribed(ctx context.Context, userID uint, t models.UnsubscribeType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.opted[unsubKey(userID, t)], nil
}

func (f *fakeUnsubscribes) Unsubscribe(ctx context.Context, userID uint, t models.UnsubscribeType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opted[unsubKey(userID, t)] = true
	return nil
}

type fakeRuns struct {
	mu        sync.Mutex
	runs      map[uint]*models.ModerationRun
	saveErr   map[string]error
	savedStep []string
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[uint]*models.ModerationRun{}, saveErr: map[string]error{}}
}

func (f *fakeRuns) Begin(ctx context.Context, commentID uint) (*models.ModerationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[commentID]
	if !ok {
		run = &models.ModerationRun{CommentID: commentID, InstanceID: "run", Steps: map[string]json.RawMessage{}}
		f.runs[commentID] = run
	}
	run.Attempts++
	out := *run
	out.Steps = map[string]json.RawMessage{}
	for k, v := range run.Steps {
		out.Steps[k] = v
	}
	return &out, nil
}

func (f *fakeRuns) SaveStep(ctx context.Context, commentID uint, step string, output json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.saveErr[step]; err != nil {
		return err
	}
	f.runs[commentID].Steps[step] = output
	f.savedStep = append(f.savedStep, step)
	return nil
}

func (f *fakeRuns) Complete(ctx context.Context, commentID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.runs[commentID].CompletedAt = &now
	return nil
}

// recordingOutbox 记录入队的邮件，按 DedupeKey 去重
type recordingOutbox struct {
	mu     sync.Mutex
	keys   map[string]bool
	emails []Email
	err    error
}

func newRecordingOutbox() *recordingOutbox {
	return &recordingOutbox{keys: map[string]bool{}}
}

func (o *recordingOutbox) Enqueue(ctx context.Context, email Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	if email.DedupeKey != "" {
		if o.keys[email.DedupeKey] {
			return ErrDuplicateDelivery
		}
		o.keys[email.DedupeKey] = true
	}
	o.emails = append(o.emails, email)
	return nil
}

func (o *recordingOutbox) sent() []Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Email(nil), o.emails...)
}

func (o *recordingOutbox) sentTo(addr string) []Email {
	var out []Email
	for _, e := range o.sent() {
		if e.To == addr {
			out = append(out, e)
		}
	}
	return out
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (s *recordingScheduler) Schedule(ctx context.Context, commentID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, commentID)
	return nil
}

func (s *recordingScheduler) scheduled() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint(nil), s.ids...)
}

type judgeFunc func(ctx context.Context, input ModerationInput) (Verdict, error)

func (f judgeFunc) Moderate(ctx context.Context, input ModerationInput) (Verdict, error) {
	return f(ctx, input)
}

func noSleep(context.Context, time.Duration) error { return nil }

func textContent(text string) json.RawMessage {
	doc := map[string]any{
		"type": "doc",
		"content": []any{
			map[string]any{
				"type":    "paragraph",
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// fixture 搭建一个完整的评论环境：管理员、两个普通用户、一篇文章
type fixture struct {
	store     *memoryStore
	outbox    *recordingOutbox
	unsubs    *fakeUnsubscribes
	scheduler *recordingScheduler
	runs      *fakeRuns
	notifier  *NotificationDispatcher
	comments  *CommentService
	post      *models.Post
	admin     Actor
	alice     Actor
	bob       Actor
}

const (
	testDomain     = "blog.example.com"
	testAdminEmail = "admin@example.com"
	testSecret     = "unsubscribe-secret"
)

func newFixture() *fixture {
	store := newMemoryStore()
	registered := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	store.addUser(models.User{ID: 1, Name: "站长", Email: testAdminEmail, Role: models.RoleAdmin, CreatedAt: registered})
	store.addUser(models.User{ID: 2, Name: "Alice", Email: "alice@example.com", Role: models.RoleUser, CreatedAt: registered})
	store.addUser(models.User{ID: 3, Name: "Bob", Email: "bob@example.com", Role: models.RoleUser, CreatedAt: registered})
	post := store.addPost(models.Post{ID: 10, Title: "Go 并发", Slug: "go-concurrency", Summary: "关于 **goroutine** 的笔记"})

	outbox := newRecordingOutbox()
	unsubs := newFakeUnsubscribes()
	scheduler := &recordingScheduler{}
	notifier := NewNotificationDispatcher(store, unsubs, outbox, NotifierConfig{
		Domain:            testDomain,
		AdminEmail:        testAdminEmail,
		UnsubscribeSecret: testSecret,
	})

	return &fixture{
		store:     store,
		outbox:    outbox,
		unsubs:    unsubs,
		scheduler: scheduler,
		runs:      newFakeRuns(),
		notifier:  notifier,
		comments:  NewCommentService(store, postStore{store}, notifier, scheduler),
		post:      post,
		admin:     Actor{ID: 1, Name: "站长", Admin: true},
		alice:     Actor{ID: 2, Name: "Alice"},
		bob:       Actor{ID: 3, Name: "Bob"},
	}
}

func (f *fixture) workflow(judge Judge) *ModerationWorkflow {
	return NewModerationWorkflow(f.store, postStore{f.store}, f.runs, judge, f.notifier,
		RetryPolicy{Limit: 3, Delay: time.Millisecond, Sleep: noSleep})
}
