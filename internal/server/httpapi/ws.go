package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/droplink/internal/server/codes"
	"github.com/dmitrijs2005/droplink/internal/server/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the transfer code is the credential; origins are not restricted
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub and notifier transports.
// gorilla allows one concurrent writer, so writes are serialized here.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	return c.ws.Close()
}

// Stream is the relay endpoint. A sender's frames are fanned out to every
// receiver on the same code; receiver inbound traffic is discarded.
func (h *Handlers) Stream(c *gin.Context) {
	code := c.Query("code")
	role := relay.Role(c.Query("role"))

	if !codes.Valid(code) {
		c.String(http.StatusBadRequest, "invalid transfer code")
		return
	}
	if role != relay.RoleSender && role != relay.RoleReceiver {
		c.String(http.StatusBadRequest, "invalid role")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws)

	// Attach reports refusal to the connection in-band and closes it
	if err := h.hub.Attach(c.Request.Context(), code, role, conn); err != nil {
		return
	}
	defer h.hub.Detach(code, role, conn)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if role != relay.RoleSender {
			continue
		}
		switch msgType {
		case websocket.TextMessage:
			h.hub.RelayControl(code, conn, data)
		case websocket.BinaryMessage:
			h.hub.RelayBinary(code, conn, data)
		}
	}

	_ = ws.Close()
}

// Live is the receiver-count observation endpoint. The code format is
// rejected before the upgrade; everything after it is reported in-band.
func (h *Handlers) Live(c *gin.Context) {
	code := c.Query("code")
	if !codes.Valid(code) {
		c.String(http.StatusBadRequest, "invalid transfer code")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read pump only detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.notifier.Run(ctx, code, conn)
	_ = ws.Close()
}
