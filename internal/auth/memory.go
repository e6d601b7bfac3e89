package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ ProfileStore = (*MemoryProfileStore)(nil)

// MemoryProfileStore keeps profiles in process for development and tests.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	now      func() time.Time
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]Profile), now: time.Now}
}

func (s *MemoryProfileStore) Create(_ context.Context, p Profile) (Profile, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if !p.Role.Valid() {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; ok {
		return Profile{}, ErrConflict
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.profiles[p.UserID] = p
	return p, nil
}

func (s *MemoryProfileStore) Find(_ context.Context, userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryProfileStore) List(_ context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryProfileStore) Update(_ context.Context, userID string, upd ProfileUpdate) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Company != nil {
		p.Company = emptyToNil(*upd.Company)
	}
	if upd.Phone != nil {
		p.Phone = emptyToNil(*upd.Phone)
	}
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func (s *MemoryProfileStore) SetRole(_ context.Context, userID string, role Role) (Profile, error) {
	if !role.Valid() {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func emptyToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
