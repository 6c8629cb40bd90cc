// Package registry tracks the currently live client connections and offers
// best-effort delivery to a client by identifier. The registry holds a
// replaceable reference to each transport handle; handle lifetime is owned
// by the accept loop, never by the registry.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wirebeam/wirebeam/internal/observability"
	"github.com/wirebeam/wirebeam/wire"
)

// Conn is the transport handle the registry delivers through. Send must be
// safe for concurrent use; implementations serialize writes internally.
type Conn interface {
	Send(ctx context.Context, msg *wire.Message) error
}

// Registry is safe for concurrent use. The lock is never held across a
// transport write, so a stalled peer cannot block unrelated deliveries.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	log   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		conns: make(map[string]Conn),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register records conn under clientID, unconditionally overwriting any
// existing entry. Client identifier uniqueness is assumed, not enforced.
func (r *Registry) Register(clientID string, conn Conn) {
	r.mu.Lock()
	r.conns[clientID] = conn
	r.mu.Unlock()
}

// Unregister is idempotent.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	delete(r.conns, clientID)
	r.mu.Unlock()
}

// Send delivers msg to clientID if a connection is registered. An absent
// client is a normal condition (peer not yet connected), not an error. A
// transport failure is logged and swallowed; unregistration happens only via
// the transport's own disconnect signal.
func (r *Registry) Send(ctx context.Context, clientID string, msg *wire.Message) {
	r.mu.RLock()
	conn, ok := r.conns[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := conn.Send(ctx, msg); err != nil {
		observability.RecordDeliveryFailure()
		r.log.ErrorContext(ctx, "message delivery failed",
			slog.String("client_id", clientID),
			slog.String("type", string(msg.Type)),
			slog.String("err", err.Error()),
		)
		return
	}
	observability.RecordRelayed(string(msg.Type))
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
