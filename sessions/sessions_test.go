package sessions

import (
	"encoding/json"
	"testing"
)

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("sender"); err != nil || r != RoleSender {
		t.Fatalf("ParseRole(sender) = %v, %v", r, err)
	}
	if r, err := ParseRole("receiver"); err != nil || r != RoleReceiver {
		t.Fatalf("ParseRole(receiver) = %v, %v", r, err)
	}
	if _, err := ParseRole("observer"); err == nil {
		t.Fatal("ParseRole(observer) succeeded, want error")
	}
	if _, err := ParseRole(""); err == nil {
		t.Fatal("ParseRole(\"\") succeeded, want error")
	}
}

func TestPeerOf(t *testing.T) {
	s := &Session{SenderID: "A", ReceiverID: "B"}
	if got := s.PeerOf("A"); got != "B" {
		t.Errorf("PeerOf(A) = %q, want B", got)
	}
	if got := s.PeerOf("B"); got != "A" {
		t.Errorf("PeerOf(B) = %q, want A", got)
	}
	// An unbound origin targets the sender, matching chunk routing.
	if got := s.PeerOf("C"); got != "A" {
		t.Errorf("PeerOf(C) = %q, want A", got)
	}

	s = &Session{SenderID: "A"}
	if got := s.PeerOf("A"); got != "" {
		t.Errorf("PeerOf(A) with no receiver = %q, want empty", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := &Session{OTP: "123456", Files: []json.RawMessage{json.RawMessage(`{"name":"a"}`)}}
	cp := s.Clone()
	cp.Files[0][2] = 'x'
	cp.Files = append(cp.Files, json.RawMessage(`{}`))
	if string(s.Files[0]) != `{"name":"a"}` {
		t.Errorf("clone mutated original metadata: %s", s.Files[0])
	}
	if len(s.Files) != 1 {
		t.Errorf("clone mutated original file list, len = %d", len(s.Files))
	}
}
