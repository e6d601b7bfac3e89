package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flowsite.io/internal/session"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newMemory(t *testing.T, c *clock) *Memory {
	t.Helper()
	m, err := NewMemory("test-secret", WithMemoryClock(c.now), WithAccessTTL(time.Minute), WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return m
}

func TestClientUserWithoutCookies(t *testing.T) {
	c := &clock{t: time.Now()}
	client := NewClient(newMemory(t, c), session.NewDocument(), WithClock(c.now))

	_, err := client.User(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestClientSignInThenUser(t *testing.T) {
	c := &clock{t: time.Now()}
	mem := newMemory(t, c)
	if _, err := mem.AddUser("Ada@Example.com", "GoodPass123!@#"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	doc := session.NewDocument()
	client := NewClient(mem, doc, WithClock(c.now))

	if _, err := client.SignInWithPassword(context.Background(), "ada@example.com", "GoodPass123!@#"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	user, err := client.User(context.Background())
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("unexpected email %q", user.Email)
	}
	if _, ok := doc.Get("sb-access-token"); !ok {
		t.Fatal("expected access cookie")
	}
}

func TestClientRefreshesExpiredAccessToken(t *testing.T) {
	c := &clock{t: time.Now()}
	mem := newMemory(t, c)
	if _, err := mem.AddUser("ada@example.com", "GoodPass123!@#"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	first, err := mem.SignInWithPassword(context.Background(), "ada@example.com", "GoodPass123!@#")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: first.AccessToken})
	req.AddCookie(&http.Cookie{Name: "sb-refresh-token", Value: first.RefreshToken})

	c.t = c.t.Add(2 * time.Minute)
	jar := session.NewJar(req)
	client := NewClient(mem, jar, WithClock(c.now))

	user, err := client.User(context.Background())
	if err != nil {
		t.Fatalf("User after expiry: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}
	pending := jar.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected refreshed cookies to be pending, got %d", len(pending))
	}
	if v, _ := jar.Get("sb-refresh-token"); v == first.RefreshToken {
		t.Fatal("expected refresh token rotation")
	}
	if _, err := mem.RefreshSession(context.Background(), first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old refresh token to be spent, got %v", err)
	}
}

func TestClientExchangeCodeConsumesVerifier(t *testing.T) {
	c := &clock{t: time.Now()}
	mem := newMemory(t, c)
	if _, err := mem.AddUser("ada@example.com", "GoodPass123!@#"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	code, err := mem.IssueCode("ada@example.com", "verifier-1")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	doc := session.NewDocument()
	client := NewClient(mem, doc, WithClock(c.now))
	client.SetCodeVerifier("verifier-1")

	if _, err := client.ExchangeCode(context.Background(), code); err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if _, ok := doc.Get("sb-code-verifier"); ok {
		t.Fatal("expected verifier cookie to be removed")
	}
	if _, err := client.ExchangeCode(context.Background(), code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused code to fail, got %v", err)
	}
}

func TestClientSignOutClearsCookies(t *testing.T) {
	c := &clock{t: time.Now()}
	mem := newMemory(t, c)
	if _, err := mem.AddUser("ada@example.com", "GoodPass123!@#"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	doc := session.NewDocument()
	client := NewClient(mem, doc, WithClock(c.now))
	s, err := client.SignInWithPassword(context.Background(), "ada@example.com", "GoodPass123!@#")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if doc.Cookie() != "" {
		t.Fatalf("expected no cookies, got %q", doc.Cookie())
	}
	if _, err := mem.GetUser(context.Background(), s.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
}

func TestMemoryVerifyOTPSingleUse(t *testing.T) {
	c := &clock{t: time.Now()}
	mem := newMemory(t, c)
	if _, err := mem.SignUp(context.Background(), "new@example.com", "GoodPass123!@#", nil); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := mem.SignInWithPassword(context.Background(), "new@example.com", "GoodPass123!@#"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected unconfirmed sign-in to fail, got %v", err)
	}
	hash, err := mem.IssueOTP("new@example.com", OTPSignup)
	if err != nil {
		t.Fatalf("IssueOTP: %v", err)
	}
	if _, err := mem.VerifyOTP(context.Background(), hash, OTPRecovery); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected type mismatch to fail, got %v", err)
	}
	if _, err := mem.VerifyOTP(context.Background(), hash, OTPSignup); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if _, err := mem.VerifyOTP(context.Background(), hash, OTPSignup); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected second use to fail, got %v", err)
	}
	if _, err := mem.SignUp(context.Background(), "NEW@example.com", "GoodPass123!@#", nil); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate sign-up to fail, got %v", err)
	}
}
