package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"flowsite.io/internal/audit"
	"flowsite.io/internal/auth"
	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
	"flowsite.io/internal/session"
)

// ReadyProbe reports whether dependencies can serve traffic (e.g. pings the DB).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Provider identity.Provider
	Profiles auth.ProfileStore
	Tracker  *audit.Tracker
	AuditLog audit.Reader
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	provider identity.Provider
	profiles auth.ProfileStore
	service  *auth.ProfileService
	tracker  *audit.Tracker
	auditLog audit.Reader

	landing      string
	siteURL      string
	cookiePrefix string
	secure       bool
	persistent   bool
	rateBurst    int
	ratePerSec   int
	trusted      []netip.Prefix
}

// Option configures API.
type Option func(*API)

func WithLanding(path string) Option {
	return func(a *API) {
		if strings.HasPrefix(path, "/") {
			a.landing = path
		}
	}
}

// WithSiteURL sets the public origin used in emailed links.
func WithSiteURL(u string) Option {
	return func(a *API) { a.siteURL = strings.TrimRight(u, "/") }
}

func WithCookiePrefix(prefix string) Option {
	return func(a *API) { a.cookiePrefix = prefix }
}

// WithSecureCookies marks session cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secure = secure }
}

// WithPersistentSessions controls whether session cookies outlive the browser session.
func WithPersistentSessions(persistent bool) Option {
	return func(a *API) { a.persistent = persistent }
}

// WithRateLimit sets the per-IP limit on credential endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithTrustedProxies lists the proxy ranges whose X-Forwarded-For is believed.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trusted = append([]netip.Prefix(nil), prefixes...) }
}

func New(rp ReadyProbe, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		provider:     deps.Provider,
		profiles:     deps.Profiles,
		tracker:      deps.Tracker,
		auditLog:     deps.AuditLog,
		landing:      DefaultLandingPath,
		siteURL:      "http://localhost:3000",
		cookiePrefix: identity.DefaultCookiePrefix,
		persistent:   true,
		rateBurst:    10,
		ratePerSec:   1,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.profiles != nil {
		a.service = auth.NewProfileService(a.profiles)
	}

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth flows; credential endpoints share one limiter
	limited := newRateLimiter(a.rateBurst, a.ratePerSec).Wrap
	a.mux.HandleFunc("GET /auth/callback", a.handleCallback)
	a.mux.Handle("POST /auth/signin", limited(http.HandlerFunc(a.handleSignIn)))
	a.mux.Handle("POST /auth/signup", limited(http.HandlerFunc(a.handleSignUp)))
	a.mux.Handle("POST /auth/forgot-password", limited(http.HandlerFunc(a.handleForgotPassword)))
	a.mux.Handle("POST /auth/reset-password", limited(http.HandlerFunc(a.handleResetPassword)))
	a.mux.HandleFunc("POST /auth/signout", a.handleSignOut)
	a.mux.HandleFunc("GET "+auth.DefaultCallbackNext, a.handleResetPasswordForm)

	// signed-in pages
	a.mux.HandleFunc("GET /dashboard", a.handleDashboard)
	a.mux.HandleFunc("GET /profile", a.handleGetProfile)
	a.mux.HandleFunc("POST /profile", a.handleUpdateProfile)

	// admin
	a.mux.HandleFunc("GET /admin", a.handleAdmin)
	a.mux.HandleFunc("GET /admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("POST /admin/users/{id}/role", a.handleSetRole)
	a.mux.HandleFunc("GET /admin/audit", a.handleAdminAudit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	edge := SessionRefresh(a.provider,
		WithLandingPath(a.landing),
		WithJarOptions(session.WithPersistence(a.persistent)),
		WithClientOptions(
			identity.WithCookiePrefix(a.cookiePrefix),
			identity.WithCookieOptions(a.cookieOptions()),
		),
	)
	realIP := RealIP(a.trusted...)
	return obs.Instrument(realIP(RequestID(LoggingJSON(SecurityHeaders(edge(a.mux))))))
}

func (a *API) cookieOptions() session.Options {
	return session.Options{
		Path:     session.DefaultPath,
		MaxAge:   identity.DefaultCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secure,
		HttpOnly: true,
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "flowsite-api",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- request helpers ---

func (a *API) state(r *http.Request) (*requestState, bool) {
	return stateFromContext(r.Context())
}

func (a *API) resolver(r *http.Request) *auth.Resolver {
	s, ok := a.state(r)
	if !ok {
		return auth.NewResolver(nil, a.profiles)
	}
	return auth.NewResolver(s, a.profiles)
}

// guard applies d. When the handler may continue it returns r with the
// resolved user attached for audit lines; otherwise the redirect has been
// written.
func (a *API) guard(w http.ResponseWriter, r *http.Request, d auth.Decision) (*http.Request, auth.User, bool) {
	if d.Allowed() {
		return r.WithContext(auth.ContextWithUser(r.Context(), d.User)), d.User, true
	}
	if d.Reason == "forbidden" {
		ev := a.requestEvent(r, audit.ActionAccessDenied)
		ev.ResourceType = "route"
		ev.ResourceID = r.URL.Path
		ev.Error = "insufficient role"
		a.logAudit(r, ev)
	}
	location := d.Location
	if d.Reason == "unauthenticated" {
		// Identity present but no profile: drop the local session before
		// redirecting to sign-in.
		if s, ok := a.state(r); ok {
			if _, err := s.User(r.Context()); err == nil {
				s.client.ClearSession()
				s.forget()
			}
		}
		if location == auth.SignInPath {
			location += "?redirectTo=" + escapeRedirect(r.URL.Path)
		}
	}
	redirect(w, r, location)
	return r, auth.User{}, false
}

// redirect uses 303 after a POST so the browser follows with GET.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	code := http.StatusTemporaryRedirect
	if r.Method == http.MethodPost {
		code = http.StatusSeeOther
	}
	http.Redirect(w, r, location, code)
}

// logAudit records ev and discards the Result. Audit writes never change
// the response: availability of the user flow is chosen over strictness of
// the trail, and failures surface through the operational log and
// audit_write_failures_total.
func (a *API) logAudit(r *http.Request, ev audit.Event) {
	_ = a.tracker.LogEvent(r.Context(), ev)
}

func (a *API) requestEvent(r *http.Request, action audit.Action) audit.Event {
	return audit.Event{
		Action:    action,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeValidation(w http.ResponseWriter, r *http.Request, fields map[string][]string) {
	payload := map[string]any{
		"error":  "validation failed",
		"fields": fields,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}
