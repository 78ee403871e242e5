package handlers

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/session"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxRequestSize = 1 << 20
)

// wsConn adapts a gorilla connection to session.Conn. Writes are serialized;
// reads happen on a single goroutine owned by the session.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(wsMaxRequestSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadRequest(ctx context.Context) (models.ChatRequest, error) {
	var req models.ChatRequest
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return models.ChatRequest{}, fmt.Errorf("%w: %v", session.ErrMalformedRequest, err)
	}
	return req, nil
}

func (c *wsConn) Send(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(n)
}

// Close says goodbye with a normal closure frame, then drops the socket.
func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
