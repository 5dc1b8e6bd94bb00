// Package live pushes periodic receiver-count updates to observer
// connections watching a transfer code. Observers do not take part in the
// relay; the feed is purely informational.
package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/droplink/internal/logging"
	"github.com/dmitrijs2005/droplink/internal/server/models"
)

// Message is the JSON envelope of the live feed.
const (
	TypeReceiverCount = "receiver_count"
	TypeError         = "error"
)

type Message struct {
	Type          string `json:"type"`
	TransferCode  string `json:"transferCode,omitempty"`
	ReceiverCount int64  `json:"receiverCount,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Conn is the observer's transport handle.
type Conn interface {
	WriteText(data []byte) error
	Close(reason string) error
}

// SessionReader is the read-only view of session and presence state the
// notifier needs. Satisfied by the sessions service.
type SessionReader interface {
	GetLiveSession(ctx context.Context, code string) (*models.TransferSession, error)
	ReceiverCount(ctx context.Context, code string) (int64, error)
}

// Notifier drives one receiver-count feed per observer connection. It holds
// no state beyond its timer; all reads go through the sessions layer.
type Notifier struct {
	sessions   SessionReader
	interval   time.Duration
	sessionTTL time.Duration
	logger     logging.Logger
}

func NewNotifier(sessions SessionReader, interval time.Duration, sessionTTL time.Duration, logger logging.Logger) *Notifier {
	return &Notifier{
		sessions:   sessions,
		interval:   interval,
		sessionTTL: sessionTTL,
		logger:     logger.With("module", "live"),
	}
}

func (n *Notifier) send(conn Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// send errors are swallowed; the next tick may succeed
	_ = conn.WriteText(data)
}

func (n *Notifier) pushCount(ctx context.Context, code string, conn Conn) {
	count, err := n.sessions.ReceiverCount(ctx, code)
	if err != nil {
		return
	}
	n.send(conn, Message{Type: TypeReceiverCount, TransferCode: code, ReceiverCount: count})
}

// Run streams receiver-count updates for code over conn until the session
// disappears, conn's context is cancelled, or the connection closes. The
// first update is pushed immediately on subscribe; when the session is found
// absent the observer gets one final error frame before the close.
func (n *Notifier) Run(ctx context.Context, code string, conn Conn) {
	session, err := n.sessions.GetLiveSession(ctx, code)
	if err != nil || session == nil {
		n.send(conn, Message{Type: TypeError, Message: "transfer not found or expired"})
		_ = conn.Close("transfer not found")
		return
	}

	n.pushCount(ctx, code, conn)

	interval := n.interval
	if n.sessionTTL < interval {
		interval = n.sessionTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.sessions.GetLiveSession(ctx, code); err != nil {
				n.send(conn, Message{Type: TypeError, Message: "transfer expired"})
				_ = conn.Close("transfer expired")
				return
			}
			n.pushCount(ctx, code, conn)
		}
	}
}
