package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps audit rows in process for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	events   []Record
	failures []FailedLogin
	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) InsertEvent(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, rec)
	return nil
}

func (s *MemoryStore) InsertFailedLogin(_ context.Context, f FailedLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.failures = append(s.failures, f)
	return nil
}

func (s *MemoryStore) CountFailedLogins(_ context.Context, email, ip string, after, until time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, f := range s.failures {
		if f.Email == email && f.IPAddress == ip && f.AttemptedAt.After(after) && !f.AttemptedAt.After(until) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := append([]Record(nil), s.events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of the recorded events in insertion order.
func (s *MemoryStore) Events() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.events...)
}

// FailedLogins returns a copy of the recorded failed attempts.
func (s *MemoryStore) FailedLogins() []FailedLogin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FailedLogin(nil), s.failures...)
}
