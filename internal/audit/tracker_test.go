package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestLogEventDefaults(t *testing.T) {
	captureLog(t)
	store := NewMemoryStore()
	tr := NewTracker(store)

	res := tr.LogEvent(context.Background(), Event{Action: ActionSignIn, Email: " Ada@Example.com "})
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	res = tr.LogEvent(context.Background(), Event{Action: ActionSignInFailed, Error: "Invalid login credentials"})
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	events := store.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ResourceType != "auth" || events[0].Severity != SeverityInfo || events[0].Email != "ada@example.com" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Severity != SeverityWarning || events[1].Metadata["error"] != "Invalid login credentials" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Fatalf("expected distinct ids")
	}
}

func TestLogEventExplicitSeverityWins(t *testing.T) {
	captureLog(t)
	store := NewMemoryStore()
	NewTracker(store).LogEvent(context.Background(), Event{Action: ActionAccountLocked, Severity: SeverityCritical, Error: "locked"})
	if got := store.Events()[0].Severity; got != SeverityCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestLogEventSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)
	store := NewMemoryStore()
	store.Err = errors.New("connection reset")

	res := NewTracker(store).LogEvent(context.Background(), Event{Action: ActionSignOut})
	if res.OK() || !strings.Contains(res.Err.Error(), "connection reset") {
		t.Fatalf("expected swallowed error in result, got %v", res.Err)
	}
	if !strings.Contains(buf.String(), "audit_write_failed") {
		t.Fatalf("expected operational log line, got %q", buf.String())
	}
}

func TestNilTrackerDoesNotPanic(t *testing.T) {
	captureLog(t)
	var tr *Tracker
	if res := tr.LogFailedLogin(context.Background(), "a@b.c", "1.2.3.4", ""); res.OK() {
		t.Fatalf("expected error from nil tracker")
	}
	if tr.CheckAccountLockout(context.Background(), "a@b.c", "1.2.3.4") {
		t.Fatalf("nil tracker must not lock")
	}
}

func TestCheckAccountLockoutThreshold(t *testing.T) {
	captureLog(t)
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(NewMemoryStore(), WithClock(c.now))

	for i := 0; i < 4; i++ {
		tr.LogFailedLogin(ctx, "ada@example.com", "10.0.0.1", "test")
	}
	if tr.CheckAccountLockout(ctx, "ada@example.com", "10.0.0.1") {
		t.Fatalf("4 attempts must not lock")
	}
	tr.LogFailedLogin(ctx, "ADA@example.com", "10.0.0.1", "test")
	if !tr.CheckAccountLockout(ctx, "ada@example.com", "10.0.0.1") {
		t.Fatalf("5 attempts must lock")
	}
	if tr.CheckAccountLockout(ctx, "ada@example.com", "10.0.0.2") {
		t.Fatalf("lockout is per email and ip pair")
	}
}

func TestCheckAccountLockoutWindowExpires(t *testing.T) {
	captureLog(t)
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(NewMemoryStore(), WithClock(c.now))

	tr.LogFailedLogin(ctx, "ada@example.com", "10.0.0.1", "")
	c.t = c.t.Add(16 * time.Minute)
	for i := 0; i < 4; i++ {
		tr.LogFailedLogin(ctx, "ada@example.com", "10.0.0.1", "")
	}
	if tr.CheckAccountLockout(ctx, "ada@example.com", "10.0.0.1") {
		t.Fatalf("attempt older than the window must not count")
	}
}

func TestCheckAccountLockoutFailsOpen(t *testing.T) {
	captureLog(t)
	store := NewMemoryStore()
	store.Err = errors.New("timeout")
	if NewTracker(store).CheckAccountLockout(context.Background(), "ada@example.com", "10.0.0.1") {
		t.Fatalf("lookup failure must report not locked")
	}
}

func TestPGStoreCountFailedLogins(t *testing.T) {
	captureLog(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select count\\(\\*\\) from failed_login_attempts").
		WithArgs("ada@example.com", "10.0.0.1", now.Add(-LockoutWindow), now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	tr := NewTracker(NewPGStore(db), WithClock(func() time.Time { return now }))
	if !tr.CheckAccountLockout(context.Background(), "Ada@example.com", "10.0.0.1") {
		t.Fatalf("expected locked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGStoreInsertEvent(t *testing.T) {
	captureLog(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), "role_changed", "u-1", nil, nil, nil, "profile", "u-2", []byte(`{"role":"editor"}`), "info", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	res := NewTracker(NewPGStore(db)).LogEvent(context.Background(), Event{
		Action:       ActionRoleChanged,
		UserID:       "u-1",
		ResourceType: "profile",
		ResourceID:   "u-2",
		Metadata:     map[string]any{"role": "editor"},
	})
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGStoreInsertFailedLoginError(t *testing.T) {
	captureLog(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into failed_login_attempts").WillReturnError(errors.New("disk full"))

	res := NewTracker(NewPGStore(db)).LogFailedLogin(context.Background(), "ada@example.com", "10.0.0.1", "agent")
	if res.OK() {
		t.Fatalf("expected swallowed error")
	}
}
