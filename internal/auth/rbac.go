package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowsite.io/internal/validate"
)

// ProfileService applies profile and role changes on top of a ProfileStore.
// Callers are responsible for checking the actor's role first.
type ProfileService struct {
	store ProfileStore
}

func NewProfileService(store ProfileStore) *ProfileService {
	return &ProfileService{store: store}
}

// ValidationError carries the field issues for an invalid profile payload.
type ValidationError struct {
	Result validate.Result
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Issues))
	for _, is := range e.Result.Issues {
		msgs = append(msgs, is.Path+": "+is.Message)
	}
	return "invalid profile: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// CreateForSignup stores the default profile for a new identity. A profile
// that already exists is returned unchanged.
func (s *ProfileService) CreateForSignup(ctx context.Context, userID, fullName string, company *string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if existing, err := s.store.Find(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}
	p, err := s.store.Create(ctx, Profile{
		UserID:   userID,
		Role:     RoleUser,
		FullName: strings.TrimSpace(fullName),
		Company:  company,
	})
	if errors.Is(err, ErrConflict) {
		return s.store.Find(ctx, userID)
	}
	return p, err
}

// UpdateOwn validates in and writes it to the caller's profile. Role is
// never changed here.
func (s *ProfileService) UpdateOwn(ctx context.Context, userID string, in validate.ProfileInput) (Profile, error) {
	clean, res := validate.Profile(in)
	if !res.OK() {
		return Profile{}, &ValidationError{Result: res}
	}
	company, phone := "", ""
	if clean.Company != nil {
		company = *clean.Company
	}
	if clean.Phone != nil {
		phone = *clean.Phone
	}
	return s.store.Update(ctx, userID, ProfileUpdate{
		FullName: &clean.FullName,
		Company:  &company,
		Phone:    &phone,
	})
}

// SetRole changes userID's role. Only admins may call it and an actor may
// not demote itself.
func (s *ProfileService) SetRole(ctx context.Context, actor User, userID, rawRole string) (Profile, error) {
	role, err := ParseRole(rawRole)
	if err != nil {
		return Profile{}, err
	}
	if actor.Role != RoleAdmin {
		return Profile{}, ErrForbidden
	}
	if actor.ID == userID && role != RoleAdmin {
		return Profile{}, fmt.Errorf("%w: admins cannot demote themselves", ErrForbidden)
	}
	return s.store.SetRole(ctx, userID, role)
}

func (s *ProfileService) List(ctx context.Context) ([]Profile, error) {
	return s.store.List(ctx)
}

func (s *ProfileService) Get(ctx context.Context, userID string) (Profile, error) {
	return s.store.Find(ctx, userID)
}
