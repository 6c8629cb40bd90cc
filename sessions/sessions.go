package sessions

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies which side of a transfer a client registered as.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ParseRole validates a wire-supplied role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSender, RoleReceiver:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// StatusPending is the only session status. It is informational; no code
// path gates transitions on it.
const StatusPending = "pending"

// Session is one pairing attempt. SenderID and ReceiverID are empty until a
// client registers with that role; a later registration of the same role
// overwrites the earlier binding. Files accumulates announced file metadata
// in announcement order; the records are opaque JSON to the relay.
type Session struct {
	OTP        string            `json:"otp"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	SenderID   string            `json:"sender_id,omitempty"`
	ReceiverID string            `json:"receiver_id,omitempty"`
	Files      []json.RawMessage `json:"files,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate a store's internal record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Files != nil {
		cp.Files = make([]json.RawMessage, len(s.Files))
		for i, f := range s.Files {
			cp.Files[i] = append(json.RawMessage(nil), f...)
		}
	}
	return &cp
}

// PeerOf resolves the counterparty of clientID within the session: a frame
// from the bound sender targets the receiver, any other origin targets the
// sender. An empty result means the target role is unbound.
func (s *Session) PeerOf(clientID string) string {
	if clientID == s.SenderID {
		return s.ReceiverID
	}
	return s.SenderID
}

// Bound reports whether clientID holds either role in the session.
func (s *Session) Bound(clientID string) bool {
	return clientID != "" && (clientID == s.SenderID || clientID == s.ReceiverID)
}
