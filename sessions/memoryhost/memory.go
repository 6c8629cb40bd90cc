package memoryhost

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wirebeam/wirebeam/sessions"
)

const maxCreateAttempts = 5

// Host is an in-memory implementation of sessions.Store. A single mutex
// guards the session map; every operation is O(1) or O(files) and never
// performs I/O while holding the lock.
type Host struct {
	mu   sync.Mutex
	byID map[string]*sessions.Session

	ttl    time.Duration
	otpLen int
	now    func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithTTL overrides the session lifetime applied at creation.
func WithTTL(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.ttl = d
		}
	}
}

// WithOTPLength overrides the number of digits in generated OTPs.
func WithOTPLength(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.otpLen = n
		}
	}
}

// WithClock substitutes the time source. Used by tests to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

func New(opts ...Option) *Host {
	h := &Host{
		byID:   make(map[string]*sessions.Session),
		ttl:    sessions.DefaultTTL,
		otpLen: sessions.DefaultOTPLength,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Host) Create(ctx context.Context) (*sessions.Session, error) {
	now := h.now()
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		otp, err := sessions.GenerateOTP(h.otpLen)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		if _, exists := h.byID[otp]; exists {
			h.mu.Unlock()
			continue
		}
		sess := &sessions.Session{
			OTP:       otp,
			Status:    sessions.StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(h.ttl),
		}
		h.byID[otp] = sess
		h.mu.Unlock()
		return sess.Clone(), nil
	}
	return nil, sessions.ErrCollision
}

func (h *Host) Get(ctx context.Context, otp string) (*sessions.Session, error) {
	h.mu.Lock()
	sess, ok := h.byID[otp]
	h.mu.Unlock()
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return sess.Clone(), nil
}

func (h *Host) RegisterRole(ctx context.Context, otp, clientID string, role sessions.Role) (*sessions.Session, error) {
	h.mu.Lock()
	sess, ok := h.byID[otp]
	if !ok {
		h.mu.Unlock()
		return nil, sessions.ErrNotFound
	}
	switch role {
	case sessions.RoleSender:
		sess.SenderID = clientID
	case sessions.RoleReceiver:
		sess.ReceiverID = clientID
	}
	cp := sess.Clone()
	h.mu.Unlock()
	return cp, nil
}

func (h *Host) AppendFile(ctx context.Context, otp string, metadata json.RawMessage) (*sessions.Session, error) {
	h.mu.Lock()
	sess, ok := h.byID[otp]
	if !ok {
		h.mu.Unlock()
		return nil, sessions.ErrNotFound
	}
	sess.Files = append(sess.Files, append(json.RawMessage(nil), metadata...))
	cp := sess.Clone()
	h.mu.Unlock()
	return cp, nil
}

func (h *Host) Remove(ctx context.Context, otp string) error {
	h.mu.Lock()
	delete(h.byID, otp)
	h.mu.Unlock()
	return nil
}

func (h *Host) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	h.mu.Lock()
	var removed []string
	for otp, sess := range h.byID {
		if !sess.ExpiresAt.After(now) {
			delete(h.byID, otp)
			removed = append(removed, otp)
		}
	}
	h.mu.Unlock()
	return removed, nil
}

func (h *Host) FindByClient(ctx context.Context, clientID string) ([]*sessions.Session, error) {
	h.mu.Lock()
	var found []*sessions.Session
	for _, sess := range h.byID {
		if sess.Bound(clientID) {
			found = append(found, sess.Clone())
		}
	}
	h.mu.Unlock()
	return found, nil
}

var _ sessions.Store = (*Host)(nil)
