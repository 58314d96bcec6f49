package etag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalid is returned when a string is not a valid etag.
var ErrInvalid = errors.New("invalid etag")

// Etag identifies one revision of a document.
// The first eight bytes hold the restart counter and the last eight the change counter, both big-endian,
// so byte order and numeric order agree.
type Etag [16]byte

// Empty is the zero etag; every assigned etag compares greater than it.
var Empty Etag

// New builds an etag from its two counters.
func New(restarts, changes int64) Etag {
	var e Etag
	binary.BigEndian.PutUint64(e[:8], uint64(restarts))
	binary.BigEndian.PutUint64(e[8:], uint64(changes))
	return e
}

// Parse reads the 8-4-4-4-12 hex form produced by String.
func Parse(s string) (Etag, error) {
	if len(s) != 36 {
		return Empty, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Empty, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Etag(u), nil
}

// String renders the etag, e.g. 00000000-0000-0001-0000-000000000002.
func (e Etag) String() string {
	return uuid.UUID(e).String()
}

func (e Etag) Restarts() int64 { return int64(binary.BigEndian.Uint64(e[:8])) }

func (e Etag) Changes() int64 { return int64(binary.BigEndian.Uint64(e[8:])) }

// Compare returns -1, 0 or +1.
func (e Etag) Compare(o Etag) int {
	return bytes.Compare(e[:], o[:])
}

// Increment returns the etag n changes later within the same restart.
func (e Etag) Increment(n int64) Etag {
	return New(e.Restarts(), e.Changes()+n)
}

func (e Etag) IsZero() bool { return e == Empty }

func (e Etag) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Etag) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Generator hands out strictly increasing etags. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	last Etag
}

// NewGenerator starts a generator for the given restart counter.
// Callers bump restarts once per process start so etags never repeat across restarts.
func NewGenerator(restarts int64) *Generator {
	return &Generator{last: New(restarts, 0)}
}

// Next returns a new etag, greater than every etag returned before.
func (g *Generator) Next() Etag {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = g.last.Increment(1)
	return g.last
}

// Last returns the most recently issued etag.
func (g *Generator) Last() Etag {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
