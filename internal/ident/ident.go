// Package ident generates and validates the ULID identifiers used for queues
// and messages.
//
// All IDs come from a single shared monotonic entropy source, so IDs created
// by this process are strictly lexicographically increasing — even within the
// same millisecond. The store relies on this: lexicographic ID order is the
// tie-break for FIFO ordering among messages that arrive in the same
// millisecond.
package ident

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// monoEntropy is a package-level monotone entropy source shared across all
// New calls. Using a single shared source ensures that ULIDs remain
// lexicographically ordered even when generated within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New generates a fresh time-ordered ULID string.
func New() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNew is like New but panics on error. Use only in tests or init code.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(fmt.Sprintf("ident.MustNew: %v", err))
	}
	return id
}

// Validate returns an error if s is not a well-formed ULID string.
func Validate(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}
