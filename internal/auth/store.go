package auth

import "context"

// ProfileStore persists profiles. Lookups are exact-match on the user id.
type ProfileStore interface {
	Create(ctx context.Context, p Profile) (Profile, error)
	Find(ctx context.Context, userID string) (Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Update(ctx context.Context, userID string, upd ProfileUpdate) (Profile, error)
	SetRole(ctx context.Context, userID string, role Role) (Profile, error)
}
