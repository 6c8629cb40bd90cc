package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a session stays valid after creation.
const DefaultTTL = 10 * time.Minute

var (
	// ErrNotFound indicates the referenced OTP is not present in the store.
	ErrNotFound = errors.New("session not found")
	// ErrCollision indicates OTP generation kept colliding with live
	// sessions and issuance gave up.
	ErrCollision = errors.New("otp collision")
)

// Store holds all pairing sessions, keyed by OTP. Implementations must be
// safe for concurrent use and must never block on peer I/O while holding
// internal locks; every method returns defensive copies.
type Store interface {
	// Create issues a fresh session under a newly generated OTP. The OTP is
	// checked for uniqueness before insertion; generation retries a bounded
	// number of times before failing with ErrCollision.
	Create(ctx context.Context) (*Session, error)

	// Get returns the session for otp, or ErrNotFound.
	Get(ctx context.Context, otp string) (*Session, error)

	// RegisterRole binds clientID as role on the session, overwriting any
	// earlier binding (last-writer-wins). Returns the updated session, or
	// ErrNotFound.
	RegisterRole(ctx context.Context, otp, clientID string, role Role) (*Session, error)

	// AppendFile appends one announced file-metadata record. Returns the
	// updated session, or ErrNotFound.
	AppendFile(ctx context.Context, otp string, metadata json.RawMessage) (*Session, error)

	// Remove deletes the session. Removing an absent OTP is a no-op.
	Remove(ctx context.Context, otp string) error

	// SweepExpired removes every session whose deadline has passed as of
	// now and returns the removed OTPs.
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)

	// FindByClient returns every session where clientID is bound as sender
	// or receiver.
	FindByClient(ctx context.Context, clientID string) ([]*Session, error)
}
