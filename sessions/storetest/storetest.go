// Package storetest provides a conformance suite that every sessions.Store
// implementation must pass. Host packages call RunStoreTests from their own
// tests so memory and redis stay behaviorally identical.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wirebeam/wirebeam/sessions"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) sessions.Store

// RunStoreTests runs the conformance suite against stores built by factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("CreateIssuesUniqueDigitOTPs", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			sess, err := store.Create(ctx)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if len(sess.OTP) != sessions.DefaultOTPLength {
				t.Fatalf("otp %q has length %d", sess.OTP, len(sess.OTP))
			}
			for _, c := range sess.OTP {
				if c < '0' || c > '9' {
					t.Fatalf("otp %q contains non-digit", sess.OTP)
				}
			}
			if seen[sess.OTP] {
				t.Fatalf("otp %q issued twice while live", sess.OTP)
			}
			seen[sess.OTP] = true
			if sess.Status != sessions.StatusPending {
				t.Errorf("status = %q, want %q", sess.Status, sessions.StatusPending)
			}
			if !sess.ExpiresAt.After(sess.CreatedAt) {
				t.Errorf("expires_at %v not after created_at %v", sess.ExpiresAt, sess.CreatedAt)
			}
		}
	})

	t.Run("GetUnknownReturnsNotFound", func(t *testing.T) {
		store := factory(t)
		if _, err := store.Get(context.Background(), "000000"); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("Get(unknown) = %v, want ErrNotFound", err)
		}
	})

	t.Run("RegisterRoleLastWriterWins", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		sess, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		otp := sess.OTP

		got, err := store.RegisterRole(ctx, otp, "A", sessions.RoleSender)
		if err != nil {
			t.Fatalf("RegisterRole: %v", err)
		}
		if got.SenderID != "A" {
			t.Fatalf("sender = %q, want A", got.SenderID)
		}

		// Same role is overwritten by a later registration.
		got, err = store.RegisterRole(ctx, otp, "B", sessions.RoleSender)
		if err != nil {
			t.Fatalf("RegisterRole: %v", err)
		}
		if got.SenderID != "B" {
			t.Fatalf("sender = %q after overwrite, want B", got.SenderID)
		}

		// Nothing stops one client holding both roles.
		got, err = store.RegisterRole(ctx, otp, "B", sessions.RoleReceiver)
		if err != nil {
			t.Fatalf("RegisterRole: %v", err)
		}
		if got.SenderID != "B" || got.ReceiverID != "B" {
			t.Fatalf("bindings = (%q, %q), want (B, B)", got.SenderID, got.ReceiverID)
		}
	})

	t.Run("RegisterRoleUnknownSession", func(t *testing.T) {
		store := factory(t)
		if _, err := store.RegisterRole(context.Background(), "000000", "A", sessions.RoleSender); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("RegisterRole(unknown) = %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendFilePreservesOrder", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		sess, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		metas := []string{`{"name":"a.txt"}`, `{"name":"b.txt"}`, `{"name":"c.txt"}`}
		for _, m := range metas {
			if _, err := store.AppendFile(ctx, sess.OTP, json.RawMessage(m)); err != nil {
				t.Fatalf("AppendFile: %v", err)
			}
		}
		got, err := store.Get(ctx, sess.OTP)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Files) != len(metas) {
			t.Fatalf("len(files) = %d, want %d", len(got.Files), len(metas))
		}
		for i, m := range metas {
			if string(got.Files[i]) != m {
				t.Errorf("files[%d] = %s, want %s", i, got.Files[i], m)
			}
		}

		if _, err := store.AppendFile(ctx, "000000", json.RawMessage(`{}`)); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("AppendFile(unknown) = %v, want ErrNotFound", err)
		}
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		sess, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.Remove(ctx, sess.OTP); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := store.Get(ctx, sess.OTP); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
		}
		if err := store.Remove(ctx, sess.OTP); err != nil {
			t.Fatalf("second Remove: %v", err)
		}
		if err := store.Remove(ctx, "000000"); err != nil {
			t.Fatalf("Remove(unknown): %v", err)
		}
	})

	t.Run("SweepExpiredHonorsDeadline", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		sess, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		removed, err := store.SweepExpired(ctx, sess.ExpiresAt.Add(-time.Second))
		if err != nil {
			t.Fatalf("SweepExpired: %v", err)
		}
		for _, otp := range removed {
			if otp == sess.OTP {
				t.Fatal("session swept before its deadline")
			}
		}
		if _, err := store.Get(ctx, sess.OTP); err != nil {
			t.Fatalf("Get before deadline: %v", err)
		}

		removed, err = store.SweepExpired(ctx, sess.ExpiresAt)
		if err != nil {
			t.Fatalf("SweepExpired: %v", err)
		}
		found := false
		for _, otp := range removed {
			if otp == sess.OTP {
				found = true
			}
		}
		if !found {
			t.Fatalf("sweep at deadline did not report %q (got %v)", sess.OTP, removed)
		}
		if _, err := store.Get(ctx, sess.OTP); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("Get after sweep = %v, want ErrNotFound", err)
		}
	})

	t.Run("FindByClient", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		s1, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s2, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := store.RegisterRole(ctx, s1.OTP, "A", sessions.RoleSender); err != nil {
			t.Fatalf("RegisterRole: %v", err)
		}
		if _, err := store.RegisterRole(ctx, s2.OTP, "A", sessions.RoleReceiver); err != nil {
			t.Fatalf("RegisterRole: %v", err)
		}

		found, err := store.FindByClient(ctx, "A")
		if err != nil {
			t.Fatalf("FindByClient: %v", err)
		}
		if len(found) != 2 {
			t.Fatalf("len(found) = %d, want 2", len(found))
		}

		found, err = store.FindByClient(ctx, "nobody")
		if err != nil {
			t.Fatalf("FindByClient: %v", err)
		}
		if len(found) != 0 {
			t.Fatalf("len(found) = %d for unbound client, want 0", len(found))
		}
	})
}
