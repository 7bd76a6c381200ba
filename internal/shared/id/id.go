// Package id provides prefixed ULID generation for session and request
// identities. Prefixes keep logs readable; ULIDs keep IDs k-sortable and
// collision-free across restarts.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a shell session.
type SessionID string

// RequestID identifies an API request.
type RequestID string

const (
	sessionPrefix = "sess"
	requestPrefix = "req"
)

// Generator generates ULIDs from an entropy source.
type Generator struct {
	entropy io.Reader
	mu      sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = &Generator{entropy: rand.Reader}
	})
	return defaultGenerator
}

// NewGenerator creates a generator with a custom entropy source. Useful for
// deterministic tests.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// NewSessionID generates a session ID.
func NewSessionID() SessionID {
	return SessionID(fmt.Sprintf("%s_%s", sessionPrefix, Default().Generate()))
}

// NewRequestID generates a request ID.
func NewRequestID() RequestID {
	return RequestID(fmt.Sprintf("%s_%s", requestPrefix, Default().Generate()))
}

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

// IsValid reports whether s parses as a prefixed or bare ULID.
func IsValid(s string) bool {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	_, err := ulid.Parse(s)
	return err == nil
}
