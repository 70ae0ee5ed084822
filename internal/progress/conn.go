package progress

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn is the subset of *websocket.Conn the Actor depends on, so tests can
// inject a fake transport instead of a real socket.
type Conn interface {
	WriteJSON(ctx context.Context, v any) error
	ReadJSON(ctx context.Context, v any) error
	Close(reason string) error
}

// wsConn adapts github.com/coder/websocket to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, w.c, v)
}

func (w *wsConn) ReadJSON(ctx context.Context, v any) error {
	return wsjson.Read(ctx, w.c, v)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// Accept upgrades r into a WebSocket connection per spec.md section 6: 426
// without an Upgrade header, handled by the caller before Accept is reached.
func Accept(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

// acceptTimeout bounds how long a single outbound WriteJSON call from the
// actor's sender may block, independent of the caller's context. Inbound
// ReadJSON calls in readLoop are not bounded by it.
const acceptTimeout = 10 * time.Second
