package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSession means the caller carries no session cookies at all.
	ErrNoSession = errors.New("identity: no session")
	// ErrInvalidToken means the provider rejected an access, refresh or one-time token.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrInvalidCredentials means an email/password pair did not authenticate.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUserExists is returned by SignUp for an already registered email.
	ErrUserExists = errors.New("identity: user already exists")
	// ErrInvalidInput means the provider refused a request as malformed.
	ErrInvalidInput = errors.New("identity: invalid input")
	// ErrUnavailable wraps transport failures talking to the provider.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// ProviderError carries the human readable message the provider returned.
type ProviderError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "identity provider error"
}

func (e *ProviderError) Unwrap() error { return e.Err }

// User is the immutable identity issued by the provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the credential pair mirrored into cookies.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// OTPType names the flow a one-time token hash was issued for.
type OTPType string

const (
	OTPSignup      OTPType = "signup"
	OTPInvite      OTPType = "invite"
	OTPMagicLink   OTPType = "magiclink"
	OTPRecovery    OTPType = "recovery"
	OTPEmailChange OTPType = "email_change"
	OTPEmail       OTPType = "email"
)

// Provider is the hosted identity service.
type Provider interface {
	GetUser(ctx context.Context, accessToken string) (User, error)
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
	VerifyOTP(ctx context.Context, tokenHash string, typ OTPType) (Session, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (User, error)
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, password string) (User, error)
	SignOut(ctx context.Context, accessToken string) error
}
