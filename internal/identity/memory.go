package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"flowsite.io/internal/ids"
)

var _ Provider = (*Memory)(nil)

const memoryIssuer = "flowsite-dev"

// Memory is an in-process Provider for local development and tests. Access
// tokens are HS256 JWTs, refresh tokens rotate on use, and one-time tokens
// and authorization codes are single use.
type Memory struct {
	mu        sync.Mutex
	secret    []byte
	now       func() time.Time
	accessTTL time.Duration
	hashCost  int

	users    map[string]*memoryUser // by email
	byID     map[string]*memoryUser
	refresh  map[string]string // refresh token -> user id
	otps     map[string]otpGrant
	codes    map[string]codeGrant
	revoked  map[string]struct{} // access token ids
	resetLog []string
}

type memoryUser struct {
	id           string
	email        string
	passwordHash string
	confirmed    bool
}

type otpGrant struct {
	userID string
	typ    OTPType
}

type codeGrant struct {
	userID   string
	verifier string
}

type memoryClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the provider clock.
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithHashCost sets the bcrypt cost for stored password hashes.
func WithHashCost(cost int) MemoryOption {
	return func(m *Memory) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			m.hashCost = cost
		}
	}
}

// NewMemory constructs a Memory provider signing tokens with secret.
func NewMemory(secret string, opts ...MemoryOption) (*Memory, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	m := &Memory{
		secret:    []byte(secret),
		now:       time.Now,
		accessTTL: time.Hour,
		hashCost:  bcrypt.DefaultCost,
		users:     make(map[string]*memoryUser),
		byID:      make(map[string]*memoryUser),
		refresh:   make(map[string]string),
		otps:      make(map[string]otpGrant),
		codes:     make(map[string]codeGrant),
		revoked:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddUser registers a confirmed user directly.
func (m *Memory) AddUser(email, password string) (User, error) {
	u, err := m.createUser(email, password, true)
	if err != nil {
		return User{}, err
	}
	return User{ID: u.id, Email: u.email}, nil
}

// IssueOTP returns a single-use token hash for email.
func (m *Memory) IssueOTP(email string, typ OTPType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[normalizeEmail(email)]
	if !ok {
		return "", ErrInvalidCredentials
	}
	hash := randomToken()
	m.otps[hash] = otpGrant{userID: u.id, typ: typ}
	return hash, nil
}

// IssueCode returns a single-use authorization code bound to verifier.
func (m *Memory) IssueCode(email, verifier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[normalizeEmail(email)]
	if !ok {
		return "", ErrInvalidCredentials
	}
	code := randomToken()
	m.codes[code] = codeGrant{userID: u.id, verifier: verifier}
	return code, nil
}

// ResetRequests lists the emails that requested a recovery link.
func (m *Memory) ResetRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.resetLog))
	copy(out, m.resetLog)
	return out
}

func (m *Memory) GetUser(_ context.Context, accessToken string) (User, error) {
	claims := &memoryClaims{}
	parsed, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(memoryIssuer))
	if err != nil || !parsed.Valid {
		return User{}, ErrInvalidToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, gone := m.revoked[claims.ID]; gone {
		return User{}, ErrInvalidToken
	}
	u, ok := m.byID[claims.Subject]
	if !ok {
		return User{}, ErrInvalidToken
	}
	return User{ID: u.id, Email: u.email}, nil
}

func (m *Memory) RefreshSession(_ context.Context, refreshToken string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[refreshToken]
	if !ok {
		return Session{}, &ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid Refresh Token", Err: ErrInvalidToken}
	}
	delete(m.refresh, refreshToken)
	return m.mintLocked(m.byID[userID])
}

func (m *Memory) VerifyOTP(_ context.Context, tokenHash string, typ OTPType) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grant, ok := m.otps[tokenHash]
	if !ok || grant.typ != typ {
		return Session{}, &ProviderError{Status: 403, Code: "otp_expired", Message: "Email link is invalid or has expired", Err: ErrInvalidToken}
	}
	delete(m.otps, tokenHash)
	u := m.byID[grant.userID]
	u.confirmed = true
	return m.mintLocked(u)
}

func (m *Memory) ExchangeCode(_ context.Context, code, codeVerifier string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grant, ok := m.codes[code]
	if !ok {
		return Session{}, &ProviderError{Status: 400, Code: "flow_state_not_found", Message: "invalid flow state, no valid flow state found", Err: ErrInvalidToken}
	}
	delete(m.codes, code)
	if grant.verifier != "" && grant.verifier != codeVerifier {
		return Session{}, &ProviderError{Status: 400, Code: "bad_code_verifier", Message: "code challenge does not match previously saved code verifier", Err: ErrInvalidToken}
	}
	return m.mintLocked(m.byID[grant.userID])
}

func (m *Memory) SignInWithPassword(_ context.Context, email, password string) (Session, error) {
	m.mu.Lock()
	u, ok := m.users[normalizeEmail(email)]
	m.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)) != nil {
		return Session{}, &ProviderError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials", Err: ErrInvalidCredentials}
	}
	if !u.confirmed {
		return Session{}, &ProviderError{Status: 400, Code: "email_not_confirmed", Message: "Email not confirmed", Err: ErrInvalidCredentials}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintLocked(u)
}

func (m *Memory) SignUp(_ context.Context, email, password string, _ map[string]any) (User, error) {
	u, err := m.createUser(email, password, false)
	if err != nil {
		return User{}, err
	}
	return User{ID: u.id, Email: u.email}, nil
}

func (m *Memory) RequestPasswordReset(_ context.Context, email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLog = append(m.resetLog, normalizeEmail(email))
	return nil
}

func (m *Memory) UpdatePassword(ctx context.Context, accessToken, password string) (User, error) {
	user, err := m.GetUser(ctx, accessToken)
	if err != nil {
		return User{}, err
	}
	hash, err := m.hashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[user.ID].passwordHash = hash
	return user, nil
}

func (m *Memory) SignOut(_ context.Context, accessToken string) error {
	claims := &memoryClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[claims.ID] = struct{}{}
	for tok, uid := range m.refresh {
		if uid == claims.Subject {
			delete(m.refresh, tok)
		}
	}
	return nil
}

func (m *Memory) createUser(email, password string, confirmed bool) (*memoryUser, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	hash, err := m.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, &ProviderError{Status: 422, Code: "user_already_exists", Message: "User already registered", Err: ErrUserExists}
	}
	u := &memoryUser{id: uuid.NewString(), email: email, passwordHash: hash, confirmed: confirmed}
	m.users[email] = u
	m.byID[u.id] = u
	return u, nil
}

func (m *Memory) hashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (m *Memory) mintLocked(u *memoryUser) (Session, error) {
	now := m.now().UTC()
	exp := now.Add(m.accessTTL)
	claims := memoryClaims{
		Email: u.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    memoryIssuer,
			Subject:   u.id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.NewAt(now),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	refresh := randomToken()
	m.refresh[refresh] = u.id
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         User{ID: u.id, Email: u.email},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("identity: read random: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
