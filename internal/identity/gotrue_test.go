package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGoTrueServer(t *testing.T, handler http.HandlerFunc) *GoTrue {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGoTrue(srv.URL, "anon-key", WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewGoTrue: %v", err)
	}
	return g
}

func TestGoTrueVerifyOTP(t *testing.T) {
	g := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/verify" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["token_hash"] != "abc" || body["type"] != "email" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":1900000000,"user":{"id":"u1","email":"a@example.com"}}`))
	})

	s, err := g.VerifyOTP(context.Background(), "abc", OTPEmail)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if s.AccessToken != "at" || s.RefreshToken != "rt" || s.User.ID != "u1" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ExpiresAt.Unix() != 1900000000 {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt)
	}
}

func TestGoTrueRefreshUsesGrantType(t *testing.T) {
	g := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_in":3600}`))
	})
	s, err := g.RefreshSession(context.Background(), "rt1")
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if s.AccessToken != "at2" || s.ExpiresAt.IsZero() {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestGoTrueErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		call    func(*GoTrue) error
		want    error
		message string
	}{
		{
			name:   "expired link",
			status: http.StatusForbidden,
			body:   `{"code":403,"error_code":"otp_expired","msg":"Email link is invalid or has expired"}`,
			call: func(g *GoTrue) error {
				_, err := g.VerifyOTP(context.Background(), "abc", OTPEmail)
				return err
			},
			want:    ErrInvalidToken,
			message: "Email link is invalid or has expired",
		},
		{
			name:   "bad password",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_grant","error_description":"Invalid login credentials"}`,
			call: func(g *GoTrue) error {
				_, err := g.SignInWithPassword(context.Background(), "a@example.com", "x")
				return err
			},
			want:    ErrInvalidCredentials,
			message: "Invalid login credentials",
		},
		{
			name:   "existing user",
			status: http.StatusUnprocessableEntity,
			body:   `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`,
			call: func(g *GoTrue) error {
				_, err := g.SignUp(context.Background(), "a@example.com", "GoodPass123!@#", nil)
				return err
			},
			want:    ErrUserExists,
			message: "User already registered",
		},
		{
			name:   "server down",
			status: http.StatusBadGateway,
			body:   `{"message":"upstream unavailable"}`,
			call: func(g *GoTrue) error {
				_, err := g.GetUser(context.Background(), "at")
				return err
			},
			want:    ErrUnavailable,
			message: "upstream unavailable",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			err := tc.call(g)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if err.Error() != tc.message {
				t.Fatalf("message = %q, want %q", err.Error(), tc.message)
			}
		})
	}
}

func TestGoTrueSignOutIgnoresRevokedToken(t *testing.T) {
	g := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			t.Errorf("missing bearer token")
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := g.SignOut(context.Background(), "at"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
}

func TestNewGoTrueRequiresConfig(t *testing.T) {
	if _, err := NewGoTrue("", "key"); err == nil {
		t.Fatal("expected missing url error")
	}
	if _, err := NewGoTrue("https://example.supabase.co", " "); err == nil {
		t.Fatal("expected missing key error")
	}
}
