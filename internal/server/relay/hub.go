// Package relay implements the in-memory relay engine for live transfers:
// per-code connection groups with one sender and many receivers, ordered
// fan-out of control and binary frames, and join/leave bookkeeping.
//
// The hub is scoped to one running instance. A sender and its receivers must
// be connected to the same instance for live relay to function.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/droplink/internal/logging"
	"github.com/dmitrijs2005/droplink/internal/server/models"
)

// ErrNotAccepting is returned by Attach when the session exists but is no
// longer in a status that admits stream connections.
var ErrNotAccepting = errors.New("transfer is not accepting streams")

// Role distinguishes the two ends of a stream connection.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Conn is the transport handle the hub relays through. Implementations must
// be safe for concurrent writes from the hub's perspective (the hub itself
// serializes writes per group).
type Conn interface {
	// WriteText sends a JSON control frame.
	WriteText(data []byte) error
	// WriteBinary sends a raw data chunk.
	WriteBinary(data []byte) error
	// Close terminates the connection, best effort.
	Close(reason string) error
}

// SessionChecker validates that a transfer session exists and is unexpired.
// Satisfied by the sessions service.
type SessionChecker interface {
	GetLiveSession(ctx context.Context, code string) (*models.TransferSession, error)
}

// group holds the connections of one transfer code. All mutations of a group
// (installing/evicting the sender, adding/removing receivers, fan-out
// iteration) happen under its own lock; groups of different codes never
// contend.
type group struct {
	mu        sync.Mutex
	sender    Conn
	receivers map[Conn]struct{}

	// dead marks a group that has been removed from the hub's registry.
	// Set under both locks when the last member leaves; an admission that
	// still holds a reference to it must take a fresh group instead.
	dead bool
}

// Hub is the process-local registry of active relay groups.
type Hub struct {
	mu       sync.Mutex
	groups   map[string]*group
	sessions SessionChecker
	logger   logging.Logger

	// dropped counts sends the hub swallowed because a peer was gone or
	// stalled. Exposed for observability; dropped sends never affect other
	// connections.
	dropped atomic.Uint64
}

func NewHub(sessions SessionChecker, logger logging.Logger) *Hub {
	return &Hub{
		groups:   make(map[string]*group),
		sessions: sessions,
		logger:   logger.With("module", "relay"),
	}
}

// Dropped reports how many individual sends have been swallowed so far.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) getOrCreateGroup(code string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[code]
	if !ok {
		g = &group{receivers: make(map[Conn]struct{})}
		h.groups[code] = g
	}
	return g
}

func (h *Hub) lookupGroup(code string) (*group, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[code]
	return g, ok
}

// deleteGroupIfEmpty retires the group once no sender and no receivers
// remain. The emptiness check, the dead mark and the registry delete happen
// under both locks as one step, so a racing admission that fetched this
// group before the delete observes dead and retries instead of installing
// into an unreachable group.
func (h *Hub) deleteGroupIfEmpty(code string, g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sender == nil && len(g.receivers) == 0 && h.groups[code] == g {
		g.dead = true
		delete(h.groups, code)
	}
}

// Attach admits conn into the group for code. Admission requires a present,
// unexpired session in started status; otherwise the connection is told
// error and closed, and no group is created.
//
// A second sender for a code supersedes the first: the existing sender
// connection is closed before the new one is installed, keeping a single
// active sender stream per code.
//
// Admission is safe to race with removal of the group's last member; a
// group retired mid-admission is discarded and the install retried against
// a fresh one.
func (h *Hub) Attach(ctx context.Context, code string, role Role, conn Conn) error {
	session, err := h.sessions.GetLiveSession(ctx, code)
	if err != nil || session.Status != models.StatusStarted {
		_ = conn.WriteText(ErrorFrame("transfer not found, expired, or not accepting streams"))
		_ = conn.Close("invalid transfer session")
		if err == nil {
			err = ErrNotAccepting
		}
		return err
	}

	for {
		g := h.getOrCreateGroup(code)

		g.mu.Lock()
		if g.dead {
			// lost the race with removal of the group's last member;
			// the registry entry is gone, take a fresh group
			g.mu.Unlock()
			continue
		}

		if role == RoleSender {
			if g.sender != nil && g.sender != conn {
				_ = g.sender.Close("another sender connected")
			}
			g.sender = conn
		} else {
			g.receivers[conn] = struct{}{}
		}
		g.mu.Unlock()
		break
	}

	h.logger.Debug(ctx, "connection attached", "code", code, "role", string(role))
	return nil
}

// Detach removes conn from the group for code. Idempotent; unknown
// connections and unknown codes are no-ops. The group entry is deleted once
// it holds no connections at all.
func (h *Hub) Detach(code string, role Role, conn Conn) {
	g, ok := h.lookupGroup(code)
	if !ok {
		return
	}

	g.mu.Lock()
	if role == RoleSender {
		if g.sender == conn {
			g.sender = nil
		}
	} else {
		delete(g.receivers, conn)
	}
	g.mu.Unlock()

	h.deleteGroupIfEmpty(code, g)
}

// RelayControl forwards a control frame from the sender to every receiver in
// the group, verbatim and in arrival order. Malformed frames are silently
// ignored. Frames from a superseded or unknown sender go nowhere.
func (h *Hub) RelayControl(code string, from Conn, data []byte) {
	if _, ok := ParseControl(data); !ok {
		return
	}

	g, ok := h.lookupGroup(code)
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sender != from {
		return
	}
	for receiver := range g.receivers {
		if err := receiver.WriteText(data); err != nil {
			h.dropped.Add(1)
		}
	}
}

// RelayBinary forwards a raw chunk from the sender to every receiver in the
// group. A failing receiver is counted and skipped; delivery to the others
// and to the sender is unaffected.
func (h *Hub) RelayBinary(code string, from Conn, data []byte) {
	g, ok := h.lookupGroup(code)
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sender != from {
		return
	}
	for receiver := range g.receivers {
		if err := receiver.WriteBinary(data); err != nil {
			h.dropped.Add(1)
		}
	}
}
