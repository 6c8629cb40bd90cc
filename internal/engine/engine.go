// Package engine is the core of the relay: it consumes typed messages from
// connections and, consulting the session store and connection registry,
// decides which peer (if any) receives a forwarded message. It also runs the
// expiry supervisor that sweeps dead sessions. The engine is transport
// agnostic; an edge layer (relayhttp) owns sockets and framing.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirebeam/wirebeam/internal/logctx"
	"github.com/wirebeam/wirebeam/internal/observability"
	"github.com/wirebeam/wirebeam/internal/registry"
	"github.com/wirebeam/wirebeam/sessions"
	"github.com/wirebeam/wirebeam/wire"
)

const (
	// DefaultGraceDelay is how long a session survives after one of its
	// peers disconnects.
	DefaultGraceDelay = 10 * time.Second
	// DefaultSweepInterval drives the supervisor tick.
	DefaultSweepInterval = time.Second
)

const (
	msgRegisteredSender   = "You are now registered as sender. Waiting for receiver..."
	msgRegisteredReceiver = "You are now registered as receiver. Connecting to sender..."
	msgInvalidOTP         = "Invalid OTP. Please check and try again."
)

// Engine routes messages between the two peers of a session and supervises
// session expiry. All methods are safe for concurrent use; one goroutine per
// connection is the expected calling pattern.
type Engine struct {
	store sessions.Store
	reg   *registry.Registry
	log   *slog.Logger
	id    string // process-unique engine ID, labels supervisor logs

	graceDelay    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	// grace holds scheduled post-disconnect removals as data rather than a
	// goroutine per disconnect, so sweeps and tests can drive them with a
	// simulated clock. Removal is unconditional; reconnecting during the
	// window does not cancel it.
	graceMu sync.Mutex
	grace   map[string]time.Time // otp -> removal deadline
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithGraceDelay overrides the post-disconnect removal delay.
func WithGraceDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.graceDelay = d
		}
	}
}

// WithSweepInterval overrides the supervisor tick interval.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(store sessions.Store, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		reg:           reg,
		log:           slog.Default(),
		id:            uuid.NewString(),
		graceDelay:    DefaultGraceDelay,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		grace:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// CreateSession issues a fresh OTP. Expired sessions are swept before each
// issuance so the keyspace never accumulates dead codes.
func (e *Engine) CreateSession(ctx context.Context) (*sessions.Session, error) {
	e.sweep(ctx)
	sess, err := e.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordSessionCreated()
	e.log.InfoContext(ctx, "session created",
		slog.String("otp", sess.OTP),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}

// Connect records a newly accepted connection.
func (e *Engine) Connect(ctx context.Context, clientID string, conn registry.Conn) {
	e.reg.Register(clientID, conn)
	observability.ConnectionOpened()
	e.log.InfoContext(ctx, "client connected", slog.String("client_id", clientID))
}

// Disconnect handles a transport close: the connection is dropped from the
// registry, each peer of a session bound to this client is notified, and the
// session is scheduled for unconditional removal after the grace delay.
func (e *Engine) Disconnect(ctx context.Context, clientID string) {
	e.reg.Unregister(clientID)
	observability.ConnectionClosed()
	e.log.InfoContext(ctx, "client disconnected", slog.String("client_id", clientID))

	bound, err := e.store.FindByClient(ctx, clientID)
	if err != nil {
		e.log.ErrorContext(ctx, "lookup sessions for disconnect",
			slog.String("client_id", clientID),
			slog.String("err", err.Error()),
		)
		return
	}
	deadline := e.now().Add(e.graceDelay)
	for _, sess := range bound {
		if other := sess.PeerOf(clientID); other != "" {
			e.reg.Send(ctx, other, wire.NewPeerDisconnected())
		}
		e.scheduleGraceRemoval(sess.OTP, deadline)
	}
}

func (e *Engine) scheduleGraceRemoval(otp string, deadline time.Time) {
	e.graceMu.Lock()
	if existing, ok := e.grace[otp]; !ok || deadline.Before(existing) {
		e.grace[otp] = deadline
	}
	e.graceMu.Unlock()
}

// Handle dispatches one inbound message. Routing errors are local: a
// malformed or misdirected message never terminates the connection's loop.
func (e *Engine) Handle(ctx context.Context, clientID string, msg *wire.Message) {
	switch msg.Type {
	case wire.TypeRegisterOTP:
		e.handleRegister(ctx, clientID, msg)
	case wire.TypeFileMetadata:
		e.handleFileMetadata(ctx, clientID, msg)
	case wire.TypeFileChunk:
		e.handleFileChunk(ctx, clientID, msg)
	case wire.TypeTransferComplete:
		e.handleTransferComplete(ctx, clientID, msg)
	default:
		// Fail closed: drop anything the dispatch table doesn't know.
		e.log.WarnContext(ctx, "dropping message of unknown type",
			slog.String("client_id", clientID),
			slog.String("type", string(msg.Type)),
		)
	}
}

func (e *Engine) handleRegister(ctx context.Context, clientID string, msg *wire.Message) {
	role, err := sessions.ParseRole(msg.Role)
	if err != nil {
		e.log.WarnContext(ctx, "dropping register_otp with invalid role",
			slog.String("client_id", clientID),
			slog.String("role", msg.Role),
		)
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{OTP: msg.OTP, Role: string(role)})

	sess, err := e.store.RegisterRole(ctx, msg.OTP, clientID, role)
	if errors.Is(err, sessions.ErrNotFound) {
		e.reg.Send(ctx, clientID, wire.NewError(msgInvalidOTP))
		return
	}
	if err != nil {
		e.log.ErrorContext(ctx, "register role", slog.String("err", err.Error()))
		return
	}

	switch role {
	case sessions.RoleSender:
		e.reg.Send(ctx, clientID, wire.NewOTPRegistered(msgRegisteredSender))
	case sessions.RoleReceiver:
		e.reg.Send(ctx, clientID, wire.NewOTPRegistered(msgRegisteredReceiver))
		if sess.SenderID != "" {
			e.reg.Send(ctx, sess.SenderID, wire.NewReceiverConnected())
		}
	}
	e.log.InfoContext(ctx, "role registered", slog.String("client_id", clientID))
}

func (e *Engine) handleFileMetadata(ctx context.Context, clientID string, msg *wire.Message) {
	sess, err := e.store.AppendFile(ctx, msg.OTP, msg.Metadata)
	if err != nil {
		// The session may have just expired mid-transfer; trailing messages
		// are dropped rather than surfaced as errors.
		e.logDrop(ctx, clientID, msg, err)
		return
	}
	if sess.ReceiverID != "" {
		e.reg.Send(ctx, sess.ReceiverID, wire.NewFileIncoming(msg.Metadata))
	}
}

func (e *Engine) handleFileChunk(ctx context.Context, clientID string, msg *wire.Message) {
	sess, err := e.store.Get(ctx, msg.OTP)
	if err != nil {
		e.logDrop(ctx, clientID, msg, err)
		return
	}
	if target := sess.PeerOf(clientID); target != "" {
		e.reg.Send(ctx, target, wire.NewFileChunk(msg.FileID, msg.Chunk, msg.Last()))
	}
}

func (e *Engine) handleTransferComplete(ctx context.Context, clientID string, msg *wire.Message) {
	sess, err := e.store.Get(ctx, msg.OTP)
	if err != nil {
		e.logDrop(ctx, clientID, msg, err)
		return
	}
	if target := sess.PeerOf(clientID); target != "" {
		e.reg.Send(ctx, target, wire.NewTransferComplete())
	}
}

func (e *Engine) logDrop(ctx context.Context, clientID string, msg *wire.Message, err error) {
	e.log.DebugContext(ctx, "dropping message",
		slog.String("client_id", clientID),
		slog.String("type", string(msg.Type)),
		slog.String("otp", msg.OTP),
		slog.String("reason", err.Error()),
	)
}

// Run drives the expiry supervisor until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	e.log.InfoContext(ctx, "expiry supervisor running",
		slog.String("engine_id", e.id),
		slog.Duration("interval", e.sweepInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// sweep removes deadline-expired sessions and processes due grace removals.
func (e *Engine) sweep(ctx context.Context) {
	now := e.now()

	removed, err := e.store.SweepExpired(ctx, now)
	if err != nil {
		e.log.ErrorContext(ctx, "sweep expired sessions", slog.String("err", err.Error()))
	} else if len(removed) > 0 {
		observability.RecordSessionsRemoved("expired", len(removed))
		for _, otp := range removed {
			e.log.InfoContext(ctx, "session expired", slog.String("otp", otp))
		}
	}

	e.graceMu.Lock()
	var due []string
	for otp, deadline := range e.grace {
		if !deadline.After(now) {
			due = append(due, otp)
			delete(e.grace, otp)
		}
	}
	e.graceMu.Unlock()

	for _, otp := range due {
		if err := e.store.Remove(ctx, otp); err != nil {
			e.log.ErrorContext(ctx, "grace removal", slog.String("otp", otp), slog.String("err", err.Error()))
			continue
		}
		e.log.InfoContext(ctx, "session removed after disconnect grace", slog.String("otp", otp))
	}
	observability.RecordSessionsRemoved("grace", len(due))
}
