package redishost

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wirebeam/wirebeam/sessions"
	"github.com/wirebeam/wirebeam/sessions/storetest"
)

func TestRedisStore(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis.
	h, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	_ = h.Close()

	storetest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		hh, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		// Isolate each subtest in its own key space.
		hh.keyPrefix = fmt.Sprintf("wirebeam-test:%s:", uuid.NewString())
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}

func TestRedisKeyTTLCoversSessionLifetime(t *testing.T) {
	h, err := NewFromEnv(WithTTL(time.Minute))
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	defer h.Close()
	if got := h.keyTTL(); got != time.Minute+expiryMargin {
		t.Fatalf("keyTTL = %v, want %v", got, time.Minute+expiryMargin)
	}
}
