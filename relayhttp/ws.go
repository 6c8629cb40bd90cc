package relayhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wirebeam/wirebeam/internal/logctx"
	"github.com/wirebeam/wirebeam/wire"
)

const writeTimeout = 10 * time.Second

// wsConn adapts a gorilla connection to the registry's Conn. Gorilla permits
// at most one concurrent writer, so writes are serialized here.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, msg *wire.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = w.c.SetWriteDeadline(deadline)
	return w.c.WriteJSON(msg)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.WarnContext(r.Context(), "websocket upgrade failed", slog.String("err", err.Error()))
		return
	}

	ctx := logctx.WithConnData(r.Context(), &logctx.ConnData{
		ClientID:   clientID,
		RemoteAddr: r.RemoteAddr,
	})

	h.eng.Connect(ctx, clientID, &wsConn{c: c})
	defer func() {
		// The request context is tied to the dying connection; the disconnect
		// path must still notify peers and schedule cleanup.
		h.eng.Disconnect(context.WithoutCancel(ctx), clientID)
		_ = c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.log.WarnContext(ctx, "websocket read error", slog.String("err", err.Error()))
			}
			return
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// One malformed frame never terminates the connection's loop.
			h.log.WarnContext(ctx, "dropping malformed frame", slog.String("err", err.Error()))
			continue
		}
		h.eng.Handle(ctx, clientID, &msg)
	}
}
