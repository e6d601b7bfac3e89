package session

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*Document)(nil)

// Document is a browser-like Store: writes are serialized the way a script
// assigns document.cookie and reads see only the name=value pairs.
type Document struct {
	cfg config

	mu      sync.Mutex
	cookies map[string]entry
}

type entry struct {
	cookie  *http.Cookie
	expires time.Time
}

// NewDocument returns an empty document store.
func NewDocument(opts ...StoreOption) *Document {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Document{cfg: cfg, cookies: make(map[string]entry)}
}

func (d *Document) Get(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cookies[name]
	if !ok {
		return "", false
	}
	if d.expired(e) {
		delete(d.cookies, name)
		return "", false
	}
	return e.cookie.Value, true
}

func (d *Document) Set(name, value string, opts Options) {
	d.Assign(newCookie(name, value, normalize(opts, d.cfg.persistent)).String())
}

func (d *Document) Remove(name string, opts Options) {
	d.Assign(newCookie(name, "", removal(opts)).String())
}

// Assign applies one document.cookie assignment such as
// "name=value; Path=/; Max-Age=60".
func (d *Document) Assign(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	c, err := http.ParseSetCookie(line)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(d.cfg.now())) {
		delete(d.cookies, c.Name)
		return
	}
	e := entry{cookie: c}
	switch {
	case c.MaxAge > 0:
		e.expires = d.cfg.now().Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		e.expires = c.Expires
	}
	d.cookies[c.Name] = e
}

// Attributes returns the stored attributes for name as the store last received them.
func (d *Document) Attributes(name string) (Options, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cookies[name]
	if !ok || d.expired(e) {
		return Options{}, false
	}
	return OptionsFromCookie(e.cookie), true
}

// Cookie renders the string a script reads from document.cookie.
func (d *Document) Cookie() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.cookies))
	for name, e := range d.cookies {
		if d.expired(e) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+d.cookies[name].cookie.Value)
	}
	return strings.Join(pairs, "; ")
}

func (d *Document) expired(e entry) bool {
	return !e.expires.IsZero() && !e.expires.After(d.cfg.now())
}
