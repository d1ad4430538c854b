package resource

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Token identifies a registered handle. The zero Token is never issued.
type Token uint64

// Valid reports whether the token was issued by a Registry.
func (t Token) Valid() bool {
	return t != 0
}

// Stats contains counters describing the registry's lifetime.
type Stats struct {
	Registered     int64
	Released       int64
	DoubleReleases int64
	Outstanding    int
}

// ReleaseHook is called once for every handle that is actually released.
type ReleaseHook func(token Token, path string)

// Registry owns transient files (previews, compressed outputs, uploaded
// sources). Every registered handle is deleted from disk exactly once, either
// by an explicit Release or by ReleaseAll at teardown.
type Registry struct {
	logger *logrus.Logger

	mu        sync.Mutex
	next      Token
	handles   map[Token]string
	released  map[Token]struct{}
	stats     Stats
	onRelease ReleaseHook
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		logger:   logger,
		handles:  make(map[Token]string),
		released: make(map[Token]struct{}),
	}
}

// OnRelease installs a hook invoked after a handle is released.
func (r *Registry) OnRelease(hook ReleaseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRelease = hook
}

// Register takes ownership of path and returns its token.
func (r *Registry) Register(path string) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	t := r.next
	r.handles[t] = path
	r.stats.Registered++

	r.logger.WithFields(logrus.Fields{
		"token": uint64(t),
		"file":  path,
	}).Debug("Registered handle")
	return t
}

// Path returns the file behind a live token.
func (r *Registry) Path(t Token) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.handles[t]
	return p, ok
}

// Release deletes the file behind t. Releasing an unknown or already released
// token is a no-op; a second release is counted as a contract violation.
func (r *Registry) Release(t Token) {
	if !t.Valid() {
		return
	}

	r.mu.Lock()
	path, ok := r.handles[t]
	if !ok {
		if _, done := r.released[t]; done {
			r.stats.DoubleReleases++
			r.logger.WithField("token", uint64(t)).Debug("Handle already released")
		}
		r.mu.Unlock()
		return
	}
	delete(r.handles, t)
	r.released[t] = struct{}{}
	r.stats.Released++
	hook := r.onRelease
	r.mu.Unlock()

	r.removeFile(t, path)
	if hook != nil {
		hook(t, path)
	}
}

// ReleaseAll releases every outstanding handle and returns how many there were.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	tokens := make([]Token, 0, len(r.handles))
	for t := range r.handles {
		tokens = append(tokens, t)
	}
	r.mu.Unlock()

	for _, t := range tokens {
		r.Release(t)
	}
	return len(tokens)
}

// Outstanding returns the number of registered handles not yet released.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Outstanding = len(r.handles)
	return s
}

func (r *Registry) removeFile(t Token, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.WithFields(logrus.Fields{
			"token": uint64(t),
			"file":  path,
		}).Warnf("Failed to delete released handle: %v", err)
	}
}
