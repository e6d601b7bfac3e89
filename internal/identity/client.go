package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"flowsite.io/internal/session"
)

const (
	// DefaultCookiePrefix matches the hosted provider's browser SDK.
	DefaultCookiePrefix = "sb"
	// DefaultCookieMaxAge is the lifetime of durable session cookies (400 days).
	DefaultCookieMaxAge = 400 * 24 * 60 * 60
)

// CookieNames are the cookies a Client reads and writes.
type CookieNames struct {
	Access       string
	Refresh      string
	CodeVerifier string
}

// NamesForPrefix derives the cookie names used under prefix.
func NamesForPrefix(prefix string) CookieNames {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultCookiePrefix
	}
	return CookieNames{
		Access:       prefix + "-access-token",
		Refresh:      prefix + "-refresh-token",
		CodeVerifier: prefix + "-code-verifier",
	}
}

// Client binds a Provider to one session.Store. Construct one per request
// (server) or per process (browser-like document store).
type Client struct {
	provider Provider
	store    session.Store
	names    CookieNames
	cookie   session.Options
	now      func() time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithCookiePrefix changes the cookie names.
func WithCookiePrefix(prefix string) ClientOption {
	return func(c *Client) {
		c.names = NamesForPrefix(prefix)
	}
}

// WithCookieOptions sets the attributes used for session cookies.
func WithCookieOptions(opts session.Options) ClientOption {
	return func(c *Client) {
		c.cookie = opts
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewClient constructs a Client.
func NewClient(provider Provider, store session.Store, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		store:    store,
		names:    NamesForPrefix(DefaultCookiePrefix),
		cookie: session.Options{
			Path:     session.DefaultPath,
			MaxAge:   DefaultCookieMaxAge,
			SameSite: http.SameSiteLaxMode,
			HttpOnly: true,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Names reports the cookie names in use.
func (c *Client) Names() CookieNames { return c.names }

// Session returns the token pair currently held in the store.
func (c *Client) Session() (Session, bool) {
	access, hasAccess := c.store.Get(c.names.Access)
	refresh, hasRefresh := c.store.Get(c.names.Refresh)
	if (!hasAccess || access == "") && (!hasRefresh || refresh == "") {
		return Session{}, false
	}
	s := Session{AccessToken: access, RefreshToken: refresh}
	if exp, ok := tokenExpiry(access); ok {
		s.ExpiresAt = exp
	}
	return s, true
}

// User returns the signed-in user, refreshing the session first when the
// access token is missing or about to expire. Refreshed tokens are written
// back to the store. ErrNoSession is returned when no cookies are present.
func (c *Client) User(ctx context.Context) (User, error) {
	s, ok := c.Session()
	if !ok {
		return User{}, ErrNoSession
	}
	refreshed := false
	if s.AccessToken == "" || needsRefresh(s.AccessToken, c.now()) {
		if s.RefreshToken == "" {
			return User{}, ErrInvalidToken
		}
		next, err := c.refresh(ctx, s.RefreshToken)
		if err != nil {
			return User{}, err
		}
		s = next
		refreshed = true
	}

	user, err := c.provider.GetUser(ctx, s.AccessToken)
	if errors.Is(err, ErrInvalidToken) && !refreshed && s.RefreshToken != "" {
		next, rerr := c.refresh(ctx, s.RefreshToken)
		if rerr != nil {
			return User{}, rerr
		}
		return c.provider.GetUser(ctx, next.AccessToken)
	}
	return user, err
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (Session, error) {
	next, err := c.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	c.SaveSession(next)
	return next, nil
}

// SaveSession mirrors s into the store.
func (c *Client) SaveSession(s Session) {
	c.store.Set(c.names.Access, s.AccessToken, c.cookie)
	if s.RefreshToken != "" {
		c.store.Set(c.names.Refresh, s.RefreshToken, c.cookie)
	}
}

// ClearSession removes every cookie the Client owns.
func (c *Client) ClearSession() {
	c.store.Remove(c.names.Access, c.cookie)
	c.store.Remove(c.names.Refresh, c.cookie)
	c.store.Remove(c.names.CodeVerifier, c.cookie)
}

// SetCodeVerifier stores the PKCE verifier for a later ExchangeCode.
func (c *Client) SetCodeVerifier(verifier string) {
	c.store.Set(c.names.CodeVerifier, verifier, c.cookie)
}

// VerifyOTP verifies a one-time token hash and stores the resulting session.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, typ OTPType) (Session, error) {
	s, err := c.provider.VerifyOTP(ctx, tokenHash, typ)
	if err != nil {
		return Session{}, err
	}
	c.SaveSession(s)
	return s, nil
}

// ExchangeCode completes the authorization-code flow using the stored PKCE
// verifier, which is consumed whether or not the exchange succeeds.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Session, error) {
	verifier, _ := c.store.Get(c.names.CodeVerifier)
	if verifier != "" {
		c.store.Remove(c.names.CodeVerifier, c.cookie)
	}
	s, err := c.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return Session{}, err
	}
	c.SaveSession(s)
	return s, nil
}

// SignInWithPassword authenticates and stores the session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	s, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	c.SaveSession(s)
	return s, nil
}

// SignUp registers a new identity. No session is stored until the email is confirmed.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (User, error) {
	return c.provider.SignUp(ctx, email, password, metadata)
}

// RequestPasswordReset asks the provider to email a recovery link.
func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	return c.provider.RequestPasswordReset(ctx, email, redirectTo)
}

// UpdatePassword changes the signed-in user's password.
func (c *Client) UpdatePassword(ctx context.Context, password string) (User, error) {
	if _, err := c.User(ctx); err != nil {
		return User{}, err
	}
	s, _ := c.Session()
	return c.provider.UpdatePassword(ctx, s.AccessToken, password)
}

// SignOut revokes the session at the provider and always clears local cookies.
func (c *Client) SignOut(ctx context.Context) error {
	s, ok := c.Session()
	c.ClearSession()
	if !ok || s.AccessToken == "" {
		return nil
	}
	return c.provider.SignOut(ctx, s.AccessToken)
}
