package session

import (
	"net/http"
	"sync"
)

var _ Store = (*Jar)(nil)

// Jar is the server-side Store for one request. Reads see the request cookies
// shadowed by writes made during the request; writes are buffered until Apply.
type Jar struct {
	cfg config
	req *http.Request

	mu      sync.Mutex
	order   []string
	pending map[string]*http.Cookie
}

// NewJar binds a Jar to req.
func NewJar(req *http.Request, opts ...StoreOption) *Jar {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Jar{cfg: cfg, req: req, pending: make(map[string]*http.Cookie)}
}

// Get returns the latest value for name. A pending removal hides the request cookie.
func (j *Jar) Get(name string) (string, bool) {
	j.mu.Lock()
	c, ok := j.pending[name]
	j.mu.Unlock()
	if ok {
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}
	if j.req == nil {
		return "", false
	}
	rc, err := j.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return rc.Value, true
}

func (j *Jar) Set(name, value string, opts Options) {
	j.put(newCookie(name, value, normalize(opts, j.cfg.persistent)))
}

func (j *Jar) Remove(name string, opts Options) {
	j.put(newCookie(name, "", removal(opts)))
}

func (j *Jar) put(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.pending[c.Name]; !ok {
		j.order = append(j.order, c.Name)
	}
	j.pending[c.Name] = c
}

// Pending returns the buffered cookies in first-write order.
func (j *Jar) Pending() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, 0, len(j.order))
	for _, name := range j.order {
		c := *j.pending[name]
		out = append(out, &c)
	}
	return out
}

// Apply appends a Set-Cookie header for every pending write.
func (j *Jar) Apply(h http.Header) {
	for _, c := range j.Pending() {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}
