package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wirebeam/wirebeam/internal/registry"
	"github.com/wirebeam/wirebeam/sessions"
	"github.com/wirebeam/wirebeam/sessions/memoryhost"
	"github.com/wirebeam/wirebeam/wire"
)

type fakeConn struct {
	mu  sync.Mutex
	got []*wire.Message
}

func (c *fakeConn) Send(ctx context.Context, msg *wire.Message) error {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages() []*wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.Message(nil), c.got...)
}

func (c *fakeConn) lastOfType(tp wire.Type) *wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.got) - 1; i >= 0; i-- {
		if c.got[i].Type == tp {
			return c.got[i]
		}
	}
	return nil
}

func (c *fakeConn) countOfType(tp wire.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.got {
		if m.Type == tp {
			n++
		}
	}
	return n
}

type fixture struct {
	eng   *Engine
	store *memoryhost.Host
	clock *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	store := memoryhost.New(memoryhost.WithClock(clock.Now))
	log := slog.New(slog.DiscardHandler)
	reg := registry.New(registry.WithLogger(log))
	eng := New(store, reg, WithLogger(log), WithClock(clock.Now))
	return &fixture{eng: eng, store: store, clock: clock}
}

func (f *fixture) connect(t *testing.T, clientID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.eng.Connect(context.Background(), clientID, conn)
	return conn
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	sess, err := f.eng.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess.OTP
}

func registerMsg(otp, role string) *wire.Message {
	return &wire.Message{Type: wire.TypeRegisterOTP, OTP: otp, Role: role}
}

func TestRegisterUnknownOTPRepliesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.connect(t, "A")

	f.eng.Handle(ctx, "A", registerMsg("000000", "sender"))

	got := conn.messages()
	if len(got) != 1 || got[0].Type != wire.TypeError {
		t.Fatalf("messages = %+v, want one error", got)
	}
	if got[0].Message == "" {
		t.Error("error message must be human-readable, got empty")
	}
}

func TestReceiverConnectedSentOnlyAfterReceiverRegisters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	sender := f.connect(t, "A")
	receiver := f.connect(t, "B")

	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	if n := sender.countOfType(wire.TypeReceiverConnected); n != 0 {
		t.Fatalf("sender saw %d receiver_connected before receiver registered", n)
	}
	if n := sender.countOfType(wire.TypeOTPRegistered); n != 1 {
		t.Fatalf("sender saw %d otp_registered, want 1", n)
	}

	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))
	if n := receiver.countOfType(wire.TypeOTPRegistered); n != 1 {
		t.Fatalf("receiver saw %d otp_registered, want 1", n)
	}
	if n := sender.countOfType(wire.TypeReceiverConnected); n != 1 {
		t.Fatalf("sender saw %d receiver_connected, want exactly 1", n)
	}
}

func TestReceiverWithoutSenderEmitsNoReceiverConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	receiver := f.connect(t, "B")

	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))
	if n := receiver.countOfType(wire.TypeOTPRegistered); n != 1 {
		t.Fatalf("receiver saw %d otp_registered, want 1", n)
	}
	if n := receiver.countOfType(wire.TypeReceiverConnected); n != 0 {
		t.Fatalf("receiver saw %d receiver_connected with no sender bound", n)
	}
}

func TestFileMetadataForwardedToReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	f.connect(t, "A")
	receiver := f.connect(t, "B")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))

	meta := json.RawMessage(`{"name":"x.txt","size":42}`)
	f.eng.Handle(ctx, "A", &wire.Message{Type: wire.TypeFileMetadata, OTP: otp, Metadata: meta})

	fwd := receiver.lastOfType(wire.TypeFileIncoming)
	if fwd == nil {
		t.Fatal("receiver did not get file_incoming")
	}
	if string(fwd.Metadata) != string(meta) {
		t.Fatalf("metadata = %s, want %s", fwd.Metadata, meta)
	}

	sess, err := f.store.Get(ctx, otp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Files) != 1 || string(sess.Files[0]) != string(meta) {
		t.Fatalf("session files = %v, want the announced record", sess.Files)
	}
}

func TestFileMetadataWithoutReceiverIsAccumulatedSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	sender := f.connect(t, "A")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))

	f.eng.Handle(ctx, "A", &wire.Message{Type: wire.TypeFileMetadata, OTP: otp, Metadata: json.RawMessage(`{"name":"x"}`)})

	if n := sender.countOfType(wire.TypeError); n != 0 {
		t.Fatalf("sender saw %d errors for unbound receiver, want 0", n)
	}
	sess, err := f.store.Get(ctx, otp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(sess.Files))
	}
}

func TestChunkRelayedBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	sender := f.connect(t, "A")
	receiver := f.connect(t, "B")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))

	last := true
	f.eng.Handle(ctx, "A", &wire.Message{
		Type: wire.TypeFileChunk, OTP: otp,
		FileID: json.RawMessage(`1`), Chunk: "AAAA", IsLast: &last,
	})
	fwd := receiver.lastOfType(wire.TypeFileChunk)
	if fwd == nil {
		t.Fatal("receiver did not get file_chunk")
	}
	if string(fwd.FileID) != "1" || fwd.Chunk != "AAAA" || !fwd.Last() {
		t.Fatalf("forwarded chunk = %+v, want identical file_id/chunk/is_last", fwd)
	}

	f.eng.Handle(ctx, "B", &wire.Message{
		Type: wire.TypeFileChunk, OTP: otp,
		FileID: json.RawMessage(`2`), Chunk: "BBBB",
	})
	back := sender.lastOfType(wire.TypeFileChunk)
	if back == nil {
		t.Fatal("sender did not get reverse file_chunk")
	}
	if string(back.FileID) != "2" || back.Chunk != "BBBB" || back.Last() {
		t.Fatalf("reverse chunk = %+v", back)
	}
}

func TestChunkToUnboundTargetIsSilentlyDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	sender := f.connect(t, "A")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))

	f.eng.Handle(ctx, "A", &wire.Message{Type: wire.TypeFileChunk, OTP: otp, Chunk: "AAAA"})
	if n := sender.countOfType(wire.TypeError); n != 0 {
		t.Fatalf("sender saw %d errors, want 0", n)
	}
}

func TestChunkForUnknownSessionIsDropped(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "A")
	f.eng.Handle(context.Background(), "A", &wire.Message{Type: wire.TypeFileChunk, OTP: "000000", Chunk: "x"})
	if len(conn.messages()) != 0 {
		t.Fatalf("messages = %+v, want none", conn.messages())
	}
}

func TestUnknownMessageTypeIsDropped(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "A")
	f.eng.Handle(context.Background(), "A", &wire.Message{Type: "presence_ping"})
	if len(conn.messages()) != 0 {
		t.Fatalf("messages = %+v, want none", conn.messages())
	}
}

func TestRegisterWithInvalidRoleIsDropped(t *testing.T) {
	f := newFixture(t)
	otp := f.createSession(t)
	conn := f.connect(t, "A")
	f.eng.Handle(context.Background(), "A", registerMsg(otp, "observer"))
	if len(conn.messages()) != 0 {
		t.Fatalf("messages = %+v, want none", conn.messages())
	}
}

func TestRoleOverwriteIsPermitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	f.connect(t, "A")
	f.connect(t, "B")

	// Two clients fighting over the sender role: last writer wins, no error.
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	f.eng.Handle(ctx, "B", registerMsg(otp, "sender"))

	sess, err := f.store.Get(ctx, otp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.SenderID != "B" {
		t.Fatalf("sender = %q, want B", sess.SenderID)
	}
}

func TestDisconnectNotifiesPeerAndRemovesAfterGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	sender := f.connect(t, "A")
	f.connect(t, "B")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))

	f.eng.Disconnect(ctx, "B")
	if n := sender.countOfType(wire.TypePeerDisconnected); n != 1 {
		t.Fatalf("sender saw %d peer_disconnected, want exactly 1", n)
	}

	// Before the grace delay the session survives sweeps.
	f.clock.Advance(DefaultGraceDelay - time.Millisecond)
	f.eng.sweep(ctx)
	if _, err := f.store.Get(ctx, otp); err != nil {
		t.Fatalf("session removed before grace delay: %v", err)
	}

	// At the deadline it is removed unconditionally.
	f.clock.Advance(time.Millisecond)
	f.eng.sweep(ctx)
	if _, err := f.store.Get(ctx, otp); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Get after grace = %v, want ErrNotFound", err)
	}
}

func TestGraceRemovalIsUnconditionalOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)
	f.connect(t, "A")
	f.connect(t, "B")
	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))

	f.eng.Disconnect(ctx, "B")

	// B comes back and re-registers inside the grace window.
	f.connect(t, "B")
	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))

	f.clock.Advance(DefaultGraceDelay)
	f.eng.sweep(ctx)
	if _, err := f.store.Get(ctx, otp); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("reconnection canceled the scheduled removal: %v", err)
	}
}

func TestDisconnectOfUnboundClientIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	f.eng.Disconnect(context.Background(), "A")
	f.eng.Disconnect(context.Background(), "never-connected")
}

func TestCreateSessionSweepsExpiredFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otp := f.createSession(t)

	f.clock.Advance(sessions.DefaultTTL)
	if _, err := f.eng.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.store.Get(ctx, otp); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("issuance did not sweep expired session: %v", err)
	}
}

// TestEndToEndScenario drives the documented pairing flow in one piece.
func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.eng.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	otp := sess.OTP
	if want := f.clock.Now().Add(sessions.DefaultTTL); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", sess.ExpiresAt, want)
	}

	a := f.connect(t, "A")
	b := f.connect(t, "B")

	f.eng.Handle(ctx, "A", registerMsg(otp, "sender"))
	if a.countOfType(wire.TypeOTPRegistered) != 1 {
		t.Fatal("A did not receive otp_registered")
	}

	f.eng.Handle(ctx, "B", registerMsg(otp, "receiver"))
	if b.countOfType(wire.TypeOTPRegistered) != 1 {
		t.Fatal("B did not receive otp_registered")
	}
	if a.countOfType(wire.TypeReceiverConnected) != 1 {
		t.Fatal("A did not receive receiver_connected")
	}

	f.eng.Handle(ctx, "A", &wire.Message{
		Type: wire.TypeFileMetadata, OTP: otp,
		Metadata: json.RawMessage(`{"name":"x.txt"}`),
	})
	in := b.lastOfType(wire.TypeFileIncoming)
	if in == nil || string(in.Metadata) != `{"name":"x.txt"}` {
		t.Fatalf("B file_incoming = %+v", in)
	}

	last := true
	f.eng.Handle(ctx, "A", &wire.Message{
		Type: wire.TypeFileChunk, OTP: otp,
		FileID: json.RawMessage(`1`), Chunk: "...", IsLast: &last,
	})
	chunk := b.lastOfType(wire.TypeFileChunk)
	if chunk == nil || string(chunk.FileID) != "1" || chunk.Chunk != "..." || !chunk.Last() {
		t.Fatalf("B file_chunk = %+v", chunk)
	}

	f.eng.Handle(ctx, "A", &wire.Message{Type: wire.TypeTransferComplete, OTP: otp})
	if b.countOfType(wire.TypeTransferComplete) != 1 {
		t.Fatal("B did not receive transfer_complete")
	}

	f.eng.Disconnect(ctx, "B")
	if a.countOfType(wire.TypePeerDisconnected) != 1 {
		t.Fatal("A did not receive peer_disconnected")
	}

	f.clock.Advance(DefaultGraceDelay)
	f.eng.sweep(ctx)
	if _, err := f.store.Get(ctx, otp); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Get after grace = %v, want ErrNotFound", err)
	}
}
