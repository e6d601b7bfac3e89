package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"flowsite.io/internal/ids"
	"flowsite.io/internal/obs"
)

// Action names an audited operation.
type Action string

const (
	ActionSignIn            Action = "sign_in"
	ActionSignInFailed      Action = "sign_in_failed"
	ActionSignUp            Action = "sign_up"
	ActionSignOut           Action = "sign_out"
	ActionAccountLocked     Action = "account_locked"
	ActionResetRequested    Action = "password_reset_requested"
	ActionPasswordReset     Action = "password_reset"
	ActionCallbackSucceeded Action = "auth_callback_succeeded"
	ActionCallbackFailed    Action = "auth_callback_failed"
	ActionProfileUpdated    Action = "profile_updated"
	ActionRoleChanged       Action = "role_changed"
	ActionAccessDenied      Action = "access_denied"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	// DefaultResourceType applies when an Event names none.
	DefaultResourceType = "auth"
	LockoutWindow       = 15 * time.Minute
	LockoutThreshold    = 5
)

// Event is an audit entry as supplied by callers.
type Event struct {
	Action       Action
	UserID       string
	Email        string
	IPAddress    string
	UserAgent    string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	Severity     Severity
	// Error, when set, marks the event as a failure and is copied into Metadata.
	Error        string
}

// Record is a persisted audit row.
type Record struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action"`
	UserID       string         `json:"user_id,omitempty"`
	Email        string         `json:"email,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	Severity     Severity       `json:"severity"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FailedLogin is a persisted failed sign-in attempt.
type FailedLogin struct {
	ID          string
	Email       string
	IPAddress   string
	UserAgent   string
	AttemptedAt time.Time
}

// Store persists audit rows. Both tables are append only.
type Store interface {
	InsertEvent(ctx context.Context, rec Record) error
	InsertFailedLogin(ctx context.Context, f FailedLogin) error
	// CountFailedLogins counts attempts for the exact pair with
	// after < attempted_at <= until.
	CountFailedLogins(ctx context.Context, email, ip string, after, until time.Time) (int, error)
}

// Reader lists recent audit rows for the admin view.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Result reports what happened to a write. The caller's flow never depends
// on it; it exists so the swallowed error is visible and testable.
type Result struct {
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// Tracker records audit events and failed logins and evaluates lockout.
type Tracker struct {
	store Store
	now   func() time.Time
}

type Option func(*Tracker)

func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var errNoStore = errors.New("audit store unavailable")

// LogEvent persists ev. Failures are logged and counted, never returned
// to the request flow: a broken audit store must not take sign-in or any
// other user action down with it, so availability wins over a complete trail.
func (t *Tracker) LogEvent(ctx context.Context, ev Event) Result {
	rec := t.record(ev)
	_ = Emit(ctx, string(rec.Action), map[string]any{
		"audit_id":      rec.ID,
		"resource_type": rec.ResourceType,
		"resource_id":   rec.ResourceID,
		"severity":      string(rec.Severity),
		"email":         rec.Email,
	})
	if t == nil || t.store == nil {
		return t.swallow("event", errNoStore, nil)
	}
	if err := t.store.InsertEvent(ctx, rec); err != nil {
		return t.swallow("event", err, map[string]any{"action": string(rec.Action)})
	}
	return Result{}
}

// LogFailedLogin records a failed sign-in attempt for lockout accounting.
// It follows the LogEvent contract; a lost row only weakens lockout.
func (t *Tracker) LogFailedLogin(ctx context.Context, email, ip, userAgent string) Result {
	if t == nil || t.store == nil {
		return t.swallow("failed_login", errNoStore, nil)
	}
	now := t.now().UTC()
	f := FailedLogin{
		ID:          ids.NewAt(now),
		Email:       normalizeEmail(email),
		IPAddress:   strings.TrimSpace(ip),
		UserAgent:   userAgent,
		AttemptedAt: now,
	}
	if err := t.store.InsertFailedLogin(ctx, f); err != nil {
		return t.swallow("failed_login", err, map[string]any{"email": f.Email})
	}
	return Result{}
}

// CheckAccountLockout reports whether the email/ip pair has reached the
// failed-attempt threshold inside the rolling window.
//
// Lookup failures report not locked. This is a deliberate tradeoff of
// availability over strictness: an unreachable audit store must not lock
// every user out, so the check fails open and is logged and counted as
// auth_lockout_checks_total{result="error"} instead.
func (t *Tracker) CheckAccountLockout(ctx context.Context, email, ip string) bool {
	if t == nil || t.store == nil {
		obs.LockoutChecks.WithLabelValues("error").Inc()
		return false
	}
	now := t.now().UTC()
	n, err := t.store.CountFailedLogins(ctx, normalizeEmail(email), strings.TrimSpace(ip), now.Add(-LockoutWindow), now)
	if err != nil {
		obs.LockoutChecks.WithLabelValues("error").Inc()
		obs.Warn("lockout_check_failed", map[string]any{"err": err, "request_id": RequestIDFromContext(ctx)})
		return false
	}
	if n >= LockoutThreshold {
		obs.LockoutChecks.WithLabelValues("locked").Inc()
		return true
	}
	obs.LockoutChecks.WithLabelValues("open").Inc()
	return false
}

func (t *Tracker) record(ev Event) Record {
	now := time.Now().UTC()
	if t != nil {
		now = t.now().UTC()
	}
	rec := Record{
		ID:           ids.NewAt(now),
		Action:       ev.Action,
		UserID:       strings.TrimSpace(ev.UserID),
		Email:        normalizeEmail(ev.Email),
		IPAddress:    strings.TrimSpace(ev.IPAddress),
		UserAgent:    ev.UserAgent,
		ResourceType: strings.TrimSpace(ev.ResourceType),
		ResourceID:   strings.TrimSpace(ev.ResourceID),
		Severity:     ev.Severity,
		CreatedAt:    now,
	}
	if rec.ResourceType == "" {
		rec.ResourceType = DefaultResourceType
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
		if ev.Error != "" {
			rec.Severity = SeverityWarning
		}
	}
	rec.Metadata = make(map[string]any, len(ev.Metadata)+1)
	for k, v := range ev.Metadata {
		rec.Metadata[k] = v
	}
	if ev.Error != "" {
		rec.Metadata["error"] = ev.Error
	}
	return rec
}

func (t *Tracker) swallow(kind string, err error, fields map[string]any) Result {
	obs.AuditWriteFailures.WithLabelValues(kind).Inc()
	entry := map[string]any{"kind": kind, "err": err}
	for k, v := range fields {
		entry[k] = v
	}
	obs.Error("audit_write_failed", entry)
	return Result{Err: err}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
