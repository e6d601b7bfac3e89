package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var _ Provider = (*GoTrue)(nil)

// GoTrue talks to a GoTrue-compatible REST API (the hosted provider's /auth/v1).
type GoTrue struct {
	http *resty.Client
	now  func() time.Time
}

// GoTrueOption configures GoTrue.
type GoTrueOption func(*GoTrue)

// WithHTTPClient swaps the transport, e.g. for httptest servers.
func WithHTTPClient(hc *http.Client) GoTrueOption {
	return func(g *GoTrue) {
		if hc != nil && hc.Transport != nil {
			g.http.SetTransport(hc.Transport)
		}
	}
}

// WithTimeout bounds every provider round trip.
func WithTimeout(d time.Duration) GoTrueOption {
	return func(g *GoTrue) {
		if d > 0 {
			g.http.SetTimeout(d)
		}
	}
}

// NewGoTrue builds a client for baseURL (e.g. https://xyz.supabase.co) using
// the public anon key.
func NewGoTrue(baseURL, anonKey string, opts ...GoTrueOption) (*GoTrue, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity: provider url is required")
	}
	if strings.TrimSpace(anonKey) == "" {
		return nil, errors.New("identity: provider anon key is required")
	}
	if !strings.HasSuffix(baseURL, "/auth/v1") {
		baseURL += "/auth/v1"
	}
	g := &GoTrue{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json").
			SetHeader("apikey", anonKey).
			SetTimeout(10 * time.Second),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type gotrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *gotrueError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func (e *gotrueError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
}

func (s gotrueSession) toSession(now time.Time) Session {
	out := Session{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if s.User != nil {
		out.User = User{ID: s.User.ID, Email: s.User.Email}
	}
	return out
}

// signupResponse covers both shapes: a bare user when confirmation is
// pending, or a session with an embedded user when auto-confirm is on.
type signupResponse struct {
	gotrueUser
	User *gotrueUser `json:"user"`
}

func (g *GoTrue) GetUser(ctx context.Context, accessToken string) (User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return User{}, ErrInvalidToken
	}
	var out gotrueUser
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		SetError(&gotrueError{}).
		Get("/user")
	if err := g.check(resp, err, ErrInvalidToken); err != nil {
		return User{}, err
	}
	return User{ID: out.ID, Email: out.Email}, nil
}

func (g *GoTrue) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrInvalidToken
	}
	return g.token(ctx, "refresh_token", map[string]any{"refresh_token": refreshToken}, ErrInvalidToken)
}

func (g *GoTrue) VerifyOTP(ctx context.Context, tokenHash string, typ OTPType) (Session, error) {
	var out gotrueSession
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"type": string(typ), "token_hash": tokenHash}).
		SetResult(&out).
		SetError(&gotrueError{}).
		Post("/verify")
	if err := g.check(resp, err, ErrInvalidToken); err != nil {
		return Session{}, err
	}
	return out.toSession(g.now()), nil
}

func (g *GoTrue) ExchangeCode(ctx context.Context, code, codeVerifier string) (Session, error) {
	return g.token(ctx, "pkce", map[string]any{"auth_code": code, "code_verifier": codeVerifier}, ErrInvalidToken)
}

func (g *GoTrue) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	return g.token(ctx, "password", map[string]any{"email": email, "password": password}, ErrInvalidCredentials)
}

func (g *GoTrue) SignUp(ctx context.Context, email, password string, metadata map[string]any) (User, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	var out signupResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "password": password, "data": metadata}).
		SetResult(&out).
		SetError(&gotrueError{}).
		Post("/signup")
	if err := g.check(resp, err, ErrInvalidCredentials); err != nil {
		return User{}, err
	}
	if out.User != nil {
		return User{ID: out.User.ID, Email: out.User.Email}, nil
	}
	return User{ID: out.ID, Email: out.Email}, nil
}

func (g *GoTrue) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	req := g.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email}).
		SetError(&gotrueError{})
	if redirectTo != "" {
		req.SetQueryParam("redirect_to", redirectTo)
	}
	resp, err := req.Post("/recover")
	return g.check(resp, err, ErrInvalidInput)
}

func (g *GoTrue) UpdatePassword(ctx context.Context, accessToken, password string) (User, error) {
	var out gotrueUser
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]any{"password": password}).
		SetResult(&out).
		SetError(&gotrueError{}).
		Put("/user")
	if err := g.check(resp, err, ErrInvalidToken); err != nil {
		return User{}, err
	}
	return User{ID: out.ID, Email: out.Email}, nil
}

func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&gotrueError{}).
		Post("/logout")
	err = g.check(resp, err, ErrInvalidToken)
	if errors.Is(err, ErrInvalidToken) {
		// Already revoked or expired; nothing left to sign out.
		return nil
	}
	return err
}

func (g *GoTrue) token(ctx context.Context, grant string, body map[string]any, rejected error) (Session, error) {
	var out gotrueSession
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", grant).
		SetBody(body).
		SetResult(&out).
		SetError(&gotrueError{}).
		Post("/token")
	if err := g.check(resp, err, rejected); err != nil {
		return Session{}, err
	}
	return out.toSession(g.now()), nil
}

// check maps transport and HTTP failures onto the package sentinels.
// rejected is used for 4xx answers (other than user_already_exists).
func (g *GoTrue) check(resp *resty.Response, err error, rejected error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}
	perr := &ProviderError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*gotrueError); ok && body != nil {
		perr.Code = body.code()
		perr.Message = body.text()
	}
	switch {
	case perr.Code == "user_already_exists" || perr.Code == "email_exists":
		perr.Err = ErrUserExists
	case resp.StatusCode() >= http.StatusInternalServerError:
		perr.Err = ErrUnavailable
	default:
		perr.Err = rejected
	}
	return perr
}
