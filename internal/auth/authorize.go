package auth

import (
	"context"
	"errors"

	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
)

const (
	// SignInPath is where unauthenticated callers are sent.
	SignInPath = "/signin"
	// UnauthorizedPath is the generic landing page for role mismatches.
	UnauthorizedPath = "/?error=unauthorized"
)

// UserSource yields the identity behind the current request's session.
type UserSource interface {
	User(ctx context.Context) (identity.User, error)
}

// Outcome tags a Decision.
type Outcome int

const (
	Continue Outcome = iota
	Redirect
)

// Decision is the result of a guard: either continue with the user or
// redirect to Location. The HTTP layer performs the actual redirect.
type Decision struct {
	Outcome  Outcome
	User     User
	Location string
	Reason   string
}

// Allow continues with u.
func Allow(u User) Decision { return Decision{Outcome: Continue, User: u} }

// RedirectTo stops handling and sends the caller to location.
func RedirectTo(location, reason string) Decision {
	return Decision{Outcome: Redirect, Location: location, Reason: reason}
}

// Allowed reports whether the request may continue.
func (d Decision) Allowed() bool { return d.Outcome == Continue }

// Resolver derives the caller's role from the session and profile lookups.
// Build one per request: it holds no state beyond its collaborators.
type Resolver struct {
	users    UserSource
	profiles ProfileStore
}

// NewResolver constructs a Resolver.
func NewResolver(users UserSource, profiles ProfileStore) *Resolver {
	return &Resolver{users: users, profiles: profiles}
}

// CurrentUser returns the identity joined with its profile. Any failure in
// either lookup yields no user.
func (r *Resolver) CurrentUser(ctx context.Context) (User, bool) {
	if r == nil || r.users == nil || r.profiles == nil {
		return User{}, false
	}
	ident, err := r.users.User(ctx)
	if err != nil {
		if !errors.Is(err, identity.ErrNoSession) && !errors.Is(err, identity.ErrInvalidToken) {
			obs.Warn("auth_user_lookup_failed", map[string]any{"err": err})
		}
		return User{}, false
	}
	profile, err := r.profiles.Find(ctx, ident.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Warn("auth_profile_lookup_failed", map[string]any{"user_id": ident.ID, "err": err})
		}
		return User{}, false
	}
	if !profile.Role.Valid() {
		return User{}, false
	}
	return userFromProfile(ident.ID, ident.Email, profile), true
}

// RequireAuth continues with the current user or redirects to sign-in.
func (r *Resolver) RequireAuth(ctx context.Context) Decision {
	u, ok := r.CurrentUser(ctx)
	if !ok {
		return RedirectTo(SignInPath, "unauthenticated")
	}
	return Allow(u)
}

// RequireRole requires an authenticated user holding one of roles.
func (r *Resolver) RequireRole(ctx context.Context, roles ...Role) Decision {
	d := r.RequireAuth(ctx)
	if !d.Allowed() {
		return d
	}
	if !roleIn(d.User.Role, roles) {
		return RedirectTo(UnauthorizedPath, "forbidden")
	}
	return d
}

func (r *Resolver) RequireAdmin(ctx context.Context) Decision {
	return r.RequireRole(ctx, RoleAdmin)
}

func (r *Resolver) RequireEditor(ctx context.Context) Decision {
	return r.RequireRole(ctx, RoleEditor, RoleAdmin)
}

// HasRole is the non-redirecting form of RequireRole.
func (r *Resolver) HasRole(ctx context.Context, roles ...Role) bool {
	u, ok := r.CurrentUser(ctx)
	return ok && roleIn(u.Role, roles)
}

func (r *Resolver) IsAdmin(ctx context.Context) bool {
	return r.HasRole(ctx, RoleAdmin)
}

func (r *Resolver) IsEditor(ctx context.Context) bool {
	return r.HasRole(ctx, RoleEditor, RoleAdmin)
}

// CanAccessResource allows admins and the owner.
func (r *Resolver) CanAccessResource(ctx context.Context, ownerID string) bool {
	u, ok := r.CurrentUser(ctx)
	return ok && CanAccess(u, ownerID)
}

// CanModifyResource allows admins, editors and the owner.
func (r *Resolver) CanModifyResource(ctx context.Context, ownerID string) bool {
	u, ok := r.CurrentUser(ctx)
	return ok && CanModify(u, ownerID)
}

// CanAccess is the pure form of CanAccessResource.
func CanAccess(u User, ownerID string) bool {
	return u.Role == RoleAdmin || (u.ID != "" && u.ID == ownerID)
}

// CanModify is the pure form of CanModifyResource. Editors may modify
// resources they do not own.
func CanModify(u User, ownerID string) bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor || (u.ID != "" && u.ID == ownerID)
}

func roleIn(role Role, roles []Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
