package auth

import (
	"context"
	"errors"
	"testing"

	"flowsite.io/internal/identity"
)

type stubUsers struct {
	user identity.User
	err  error
}

func (s stubUsers) User(context.Context) (identity.User, error) { return s.user, s.err }

func newResolver(t *testing.T, role Role) *Resolver {
	t.Helper()
	store := NewMemoryProfileStore()
	if _, err := store.Create(context.Background(), Profile{UserID: "u-1", Role: role, FullName: "Ada"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return NewResolver(stubUsers{user: identity.User{ID: "u-1", Email: "ada@example.com"}}, store)
}

func TestRequireAuthWithoutSession(t *testing.T) {
	r := NewResolver(stubUsers{err: identity.ErrNoSession}, NewMemoryProfileStore())
	d := r.RequireAuth(context.Background())
	if d.Allowed() || d.Location != SignInPath || d.Reason != "unauthenticated" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRequireAuthWithoutProfile(t *testing.T) {
	r := NewResolver(stubUsers{user: identity.User{ID: "u-9"}}, NewMemoryProfileStore())
	if d := r.RequireAuth(context.Background()); d.Allowed() {
		t.Fatalf("expected redirect when profile is missing")
	}
}

func TestRequireAuthProviderFailure(t *testing.T) {
	r := NewResolver(stubUsers{err: errors.New("boom")}, NewMemoryProfileStore())
	if _, ok := r.CurrentUser(context.Background()); ok {
		t.Fatalf("expected no user on provider failure")
	}
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		role   Role
		admin  bool
		editor bool
	}{
		{RoleUser, false, false},
		{RoleEditor, false, true},
		{RoleAdmin, true, true},
	}
	for _, tc := range cases {
		r := newResolver(t, tc.role)
		if got := r.RequireAdmin(ctx).Allowed(); got != tc.admin {
			t.Fatalf("%s: RequireAdmin allowed=%v", tc.role, got)
		}
		if got := r.RequireEditor(ctx).Allowed(); got != tc.editor {
			t.Fatalf("%s: RequireEditor allowed=%v", tc.role, got)
		}
		if r.IsAdmin(ctx) != tc.admin || r.IsEditor(ctx) != tc.editor {
			t.Fatalf("%s: boolean forms disagree with guards", tc.role)
		}
	}

	d := newResolver(t, RoleUser).RequireAdmin(ctx)
	if d.Location != UnauthorizedPath || d.Reason != "forbidden" {
		t.Fatalf("unexpected forbidden decision: %+v", d)
	}
}

func TestRequireAuthReturnsJoinedUser(t *testing.T) {
	d := newResolver(t, RoleEditor).RequireAuth(context.Background())
	if !d.Allowed() {
		t.Fatalf("expected continue, got %+v", d)
	}
	if d.User.ID != "u-1" || d.User.Email != "ada@example.com" || d.User.Role != RoleEditor || d.User.FullName != "Ada" {
		t.Fatalf("unexpected user: %+v", d.User)
	}
}

func TestResourceChecks(t *testing.T) {
	ctx := context.Background()
	editor := newResolver(t, RoleEditor)
	if editor.CanAccessResource(ctx, "someone-else") {
		t.Fatalf("editor must not access others' resources")
	}
	if !editor.CanModifyResource(ctx, "someone-else") {
		t.Fatalf("editor may modify others' resources")
	}
	anon := NewResolver(stubUsers{err: identity.ErrNoSession}, NewMemoryProfileStore())
	if anon.CanModifyResource(ctx, "") {
		t.Fatalf("anonymous caller must not modify")
	}
}
