// Package session abstracts cookie storage for the session token pair so the
// same identity client works against a per-request server jar and a
// browser-like document store.
package session

import (
	"net/http"
	"strings"
	"time"
)

// DefaultPath is applied when Options.Path is empty.
const DefaultPath = "/"

// Options are the cookie attributes understood by every Store.
// MaxAge follows net/http: 0 leaves it unset, a negative value expires the cookie.
type Options struct {
	Path     string
	Domain   string
	MaxAge   int
	Expires  time.Time
	SameSite http.SameSite
	Secure   bool
	HttpOnly bool
}

// Store reads and writes named cookies.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, opts Options)
	Remove(name string, opts Options)
}

// normalize fills defaults and, for non-persistent stores, drops the lifetime
// attributes so the resulting cookie lives for the browser session only.
// Domain and SameSite are reduced to the form a Set-Cookie header carries:
// lower case without a leading dot, and SameSiteDefaultMode as the unset
// zero value.
func normalize(opts Options, persistent bool) Options {
	if strings.TrimSpace(opts.Path) == "" {
		opts.Path = DefaultPath
	}
	opts.Domain = strings.ToLower(strings.TrimLeft(strings.TrimSpace(opts.Domain), "."))
	if opts.SameSite == http.SameSiteDefaultMode {
		opts.SameSite = 0
	}
	if !persistent {
		opts.MaxAge = 0
		opts.Expires = time.Time{}
	}
	return opts
}

// removal turns opts into the attributes that expire a cookie immediately.
func removal(opts Options) Options {
	opts = normalize(opts, false)
	opts.MaxAge = -1
	return opts
}

func newCookie(name, value string, opts Options) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		Expires:  opts.Expires,
		SameSite: opts.SameSite,
		Secure:   opts.Secure,
		HttpOnly: opts.HttpOnly,
	}
}

// OptionsFromCookie recovers the Options carried by c.
func OptionsFromCookie(c *http.Cookie) Options {
	return Options{
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   c.MaxAge,
		Expires:  c.Expires,
		SameSite: c.SameSite,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

// StoreOption configures a Store implementation.
type StoreOption func(*config)

type config struct {
	persistent bool
	now        func() time.Time
}

func defaultConfig() config {
	return config{persistent: true, now: time.Now}
}

// WithPersistence toggles durable cookies. When false, Set strips MaxAge and Expires.
func WithPersistence(persistent bool) StoreOption {
	return func(c *config) {
		c.persistent = persistent
	}
}

// WithClock overrides the time source used for expiry bookkeeping.
func WithClock(fn func() time.Time) StoreOption {
	return func(c *config) {
		if fn != nil {
			c.now = fn
		}
	}
}
