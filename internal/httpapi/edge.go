package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
	"flowsite.io/internal/session"
)

const DefaultLandingPath = "/dashboard"

var (
	defaultProtectedPrefixes  = []string{"/admin", "/dashboard", "/profile"}
	defaultPublicAuthPrefixes = []string{"/signin", "/signup"}
)

type edgeConfig struct {
	landing    string
	signIn     string
	protected  []string
	publicAuth []string
	jarOpts    []session.StoreOption
	clientOpts []identity.ClientOption
}

// EdgeOption configures SessionRefresh.
type EdgeOption func(*edgeConfig)

// WithLandingPath sets where signed-in visitors of sign-in pages are sent.
func WithLandingPath(path string) EdgeOption {
	return func(c *edgeConfig) {
		if strings.HasPrefix(path, "/") {
			c.landing = path
		}
	}
}

func WithProtectedPrefixes(prefixes ...string) EdgeOption {
	return func(c *edgeConfig) { c.protected = prefixes }
}

func WithPublicAuthPrefixes(prefixes ...string) EdgeOption {
	return func(c *edgeConfig) { c.publicAuth = prefixes }
}

// WithJarOptions configures the per-request cookie jar.
func WithJarOptions(opts ...session.StoreOption) EdgeOption {
	return func(c *edgeConfig) { c.jarOpts = append(c.jarOpts, opts...) }
}

// WithClientOptions configures the per-request identity client.
func WithClientOptions(opts ...identity.ClientOption) EdgeOption {
	return func(c *edgeConfig) { c.clientOpts = append(c.clientOpts, opts...) }
}

// requestState is what SessionRefresh hands to handlers through the context.
type requestState struct {
	jar    *session.Jar
	client *identity.Client

	mu      sync.Mutex
	fetched bool
	user    identity.User
	err     error
}

// User returns the identity fetched by the edge, fetching it on first use.
func (s *requestState) User(ctx context.Context) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fetched {
		s.user, s.err = s.client.User(ctx)
		s.fetched = true
	}
	return s.user, s.err
}

// forget drops the memoized user after the session changed.
func (s *requestState) forget() {
	s.mu.Lock()
	s.fetched = false
	s.mu.Unlock()
}

type stateKey struct{}

func stateFromContext(ctx context.Context) (*requestState, bool) {
	s, ok := ctx.Value(stateKey{}).(*requestState)
	return s, ok && s != nil
}

// ClientFromContext returns the identity client SessionRefresh bound to the request.
func ClientFromContext(ctx context.Context) (*identity.Client, bool) {
	s, ok := stateFromContext(ctx)
	if !ok {
		return nil, false
	}
	return s.client, true
}

// SessionRefresh runs before every handler. It refreshes the session when
// needed, enforces the protected and public-auth path policy and makes sure
// cookie writes reach whichever response is sent.
func SessionRefresh(provider identity.Provider, opts ...EdgeOption) func(http.Handler) http.Handler {
	cfg := edgeConfig{
		landing:    DefaultLandingPath,
		signIn:     "/signin",
		protected:  defaultProtectedPrefixes,
		publicAuth: defaultPublicAuthPrefixes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jar := session.NewJar(r, cfg.jarOpts...)
			state := &requestState{jar: jar, client: identity.NewClient(provider, jar, cfg.clientOpts...)}

			user, err := state.User(r.Context())
			authenticated := err == nil && user.ID != ""
			if err != nil && !errors.Is(err, identity.ErrNoSession) {
				obs.Warn("session_refresh_failed", map[string]any{
					"path":       r.URL.Path,
					"request_id": RequestIDFromContext(r.Context()),
					"err":        err,
				})
				state.client.ClearSession()
			}

			path := r.URL.Path
			switch {
			case !authenticated && matchesPrefix(path, cfg.protected):
				obs.EdgeRedirects.WithLabelValues("unauthenticated").Inc()
				jar.Apply(w.Header())
				http.Redirect(w, r, cfg.signIn+"?redirectTo="+escapeRedirect(path), http.StatusTemporaryRedirect)
				return
			case authenticated && matchesPrefix(path, cfg.publicAuth):
				obs.EdgeRedirects.WithLabelValues("authenticated").Inc()
				jar.Apply(w.Header())
				http.Redirect(w, r, cfg.landing, http.StatusTemporaryRedirect)
				return
			}

			ctx := context.WithValue(r.Context(), stateKey{}, state)
			cw := &cookieWriter{ResponseWriter: w, jar: jar}
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.apply()
		})
	}
}

// cookieWriter copies the jar's pending cookies onto the response right
// before the header is written, so writes made by handlers are included.
type cookieWriter struct {
	http.ResponseWriter
	jar     *session.Jar
	applied bool
}

func (w *cookieWriter) apply() {
	if w.applied {
		return
	}
	w.applied = true
	w.jar.Apply(w.ResponseWriter.Header())
}

func (w *cookieWriter) WriteHeader(code int) {
	w.apply()
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Flush() {
	w.apply()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *cookieWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// matchesPrefix matches whole path segments: /admin covers /admin and
// /admin/... but not /administrator.
func matchesPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// escapeRedirect keeps slashes readable while escaping what would break
// the query string.
func escapeRedirect(path string) string {
	escaped := (&url.URL{Path: path}).EscapedPath()
	return strings.NewReplacer("&", "%26", "+", "%2B", "=", "%3D").Replace(escaped)
}
