package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// MemoryStore is an in-process notification.Store for service tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*domain.Notification
	order []string

	// InsertErr, when set, fails every Insert.
	InsertErr error
	// UpdateErr, when set, fails every UpdateDeliveries.
	UpdateErr error
	// FailUpdatesAfter > 0 lets that many UpdateDeliveries succeed, then fails the rest.
	FailUpdatesAfter int
	updates          int
	// FailIterationAfter > 0 makes EachRetryable/EachSince fail after that many records.
	FailIterationAfter int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*domain.Notification)}
}

var _ notification.Store = (*MemoryStore)(nil)

func clone(n *domain.Notification) *domain.Notification {
	c := *n
	c.Deliveries = append([]domain.Delivery(nil), n.Deliveries...)
	c.Suppressed = append([]domain.Channel(nil), n.Suppressed...)
	return &c
}

// Put stores n as-is, bypassing the service.
func (s *MemoryStore) Put(n *domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; !ok {
		s.order = append(s.order, n.ID)
	}
	s.items[n.ID] = clone(n)
}

// All returns copies of every record in insertion order.
func (s *MemoryStore) All() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Notification, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.items[id]))
	}
	return out
}

func (s *MemoryStore) Insert(_ context.Context, n *domain.Notification) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.Put(n)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return clone(n), nil
}

func (s *MemoryStore) GetForUser(ctx context.Context, userID, id string) (*domain.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, notification.ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, f notification.ListFilter) ([]*domain.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Notification
	for _, id := range s.order {
		n := s.items[id]
		if n.UserID != userID {
			continue
		}
		if f.UnreadOnly && n.IsRead {
			continue
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		matched = append(matched, clone(n))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c int64
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound
	}
	if !n.IsRead {
		n.IsRead = true
		n.ReadAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c int64
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			c++
		}
	}
	return c, nil
}

func (s *MemoryStore) UpdateDeliveries(_ context.Context, n *domain.Notification) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdatesAfter > 0 && s.updates >= s.FailUpdatesAfter {
		return ErrInjected
	}
	s.updates++
	cur, ok := s.items[n.ID]
	if !ok {
		return notification.ErrNotFound
	}
	cur.Deliveries = append([]domain.Delivery(nil), n.Deliveries...)
	cur.Suppressed = append([]domain.Channel(nil), n.Suppressed...)
	return nil
}

func (s *MemoryStore) EachRetryable(ctx context.Context, maxRetries int, now time.Time, fn func(*domain.Notification) error) error {
	return s.each(func(n *domain.Notification) bool {
		return len(n.RetryableChannels(maxRetries, now)) > 0
	}, fn)
}

func (s *MemoryStore) EachSince(ctx context.Context, since time.Time, fn func(*domain.Notification) error) error {
	return s.each(func(n *domain.Notification) bool {
		return !n.CreatedAt.Before(since)
	}, fn)
}

// each snapshots matching records so fn may write back through the store.
func (s *MemoryStore) each(match func(*domain.Notification) bool, fn func(*domain.Notification) error) error {
	var batch []*domain.Notification
	for _, n := range s.All() {
		if match(n) {
			batch = append(batch, n)
		}
	}
	for i, n := range batch {
		if s.FailIterationAfter > 0 && i >= s.FailIterationAfter {
			return ErrInjected
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		n := s.items[id]
		if n.IsRead && n.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

// MemoryPreferences is an in-process notification.PreferencesStore.
type MemoryPreferences struct {
	mu    sync.Mutex
	items map[string]domain.Preferences
	// GetErr, when set, fails every Get.
	GetErr error
}

// NewMemoryPreferences returns a store seeded with prefs.
func NewMemoryPreferences(prefs ...domain.Preferences) *MemoryPreferences {
	m := &MemoryPreferences{items: make(map[string]domain.Preferences)}
	for _, p := range prefs {
		m.items[p.UserID] = p
	}
	return m
}

var _ notification.PreferencesStore = (*MemoryPreferences)(nil)

func (m *MemoryPreferences) Get(_ context.Context, userID string) (*domain.Preferences, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryPreferences) Upsert(_ context.Context, p *domain.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.UserID] = *p
	return nil
}

// StaticDirectory maps user ids to email addresses.
type StaticDirectory map[string]string

func (d StaticDirectory) Email(_ context.Context, userID string) (string, error) {
	return d[userID], nil
}

// FakeChannel records deliveries and fails on demand.
type FakeChannel struct {
	mu    sync.Mutex
	name  domain.Channel
	calls []notification.Message
	to    []notification.Recipient

	// Err is returned from every Deliver while set.
	Err error
	// Block makes Deliver wait for ctx to end.
	Block bool
}

// NewFakeChannel returns a succeeding channel named ch.
func NewFakeChannel(ch domain.Channel) *FakeChannel {
	return &FakeChannel{name: ch}
}

func (f *FakeChannel) Name() domain.Channel { return f.name }

func (f *FakeChannel) Deliver(ctx context.Context, to notification.Recipient, msg notification.Message) error {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.to = append(f.to, to)
	err, block := f.Err, f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// SetErr changes the failure returned by later calls.
func (f *FakeChannel) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns how many times Deliver ran.
func (f *FakeChannel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// LastRecipient returns the most recent recipient.
func (f *FakeChannel) LastRecipient() notification.Recipient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.to) == 0 {
		return notification.Recipient{}
	}
	return f.to[len(f.to)-1]
}

// StaticRules serves a fixed rule list.
type StaticRules []domain.AlertRule

func (r StaticRules) ListEnabled(context.Context) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	for _, rule := range r {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}
