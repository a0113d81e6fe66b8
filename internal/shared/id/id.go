// Package id generates correlation identifiers for MORK requests and
// client instances.
//
// Request IDs are prefixed ULIDs (req_01H...). They sort by creation time,
// which keeps server logs and client history in the same order, and the
// prefix makes them easy to spot in log lines. Client IDs are random UUIDs
// identifying one transport instance across all of its requests.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestID correlates one asynchronous server operation.
type RequestID string

// ClientID identifies one transport instance.
type ClientID string

const (
	RequestPrefix = "req"
	ClientPrefix  = "cli"
)

// Generator produces monotonic ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. IDs created in the
// same millisecond still increase strictly.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID generates a new request correlation ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewClientID generates a new client instance ID.
func NewClientID() ClientID {
	return ClientID(ClientPrefix + "_" + uuid.NewString())
}

func (id RequestID) String() string { return string(id) }
func (id ClientID) String() string  { return string(id) }

// Split separates a prefixed ID into its prefix and body.
func Split(s string) (prefix, body string, ok bool) {
	prefix, body, ok = strings.Cut(s, "_")
	if !ok || prefix == "" || body == "" {
		return "", "", false
	}
	return prefix, body, true
}

// IsRequestID reports whether s is a well-formed request ID.
func IsRequestID(s string) bool {
	prefix, body, ok := Split(s)
	return ok && prefix == RequestPrefix && IsValid(body)
}

// IsValid checks whether s is a valid ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the creation time of a request ID.
func Timestamp(s string) (time.Time, error) {
	_, body, ok := Split(s)
	if !ok {
		body = s
	}
	parsed, err := ulid.ParseStrict(body)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
