package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/orchestra-mcp/collab/src/types"
)

var timeNow = time.Now

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	Send        chan types.Message
	connectedAt time.Time
	notes       map[string]bool
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		Send:        make(chan types.Message, h.settings.SendBuffer),
		connectedAt: timeNow(),
		notes:       make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	notes := make([]string, 0, len(c.notes))
	for n := range c.notes {
		notes = append(notes, n)
	}
	return types.ClientInfo{
		ID:          c.ID,
		ConnectedAt: c.connectedAt,
		Notes:       notes,
	}
}

// AddNote records a joined note.
func (c *Client) AddNote(noteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes[noteID] = true
}

// RemoveNote forgets a joined note.
func (c *Client) RemoveNote(noteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.notes, noteID)
}

// ReadPump reads messages from the WebSocket and queues them on the hub.
// Frames that are not valid JSON are skipped; any other read error ends
// the connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("undecodable frame")
				continue
			}
			return
		}
		msg.ClientID = c.ID
		msg.Timestamp = timeNow()

		perm := types.PermissionEdit
		if msg.Event == types.EventJoinNote {
			var ok bool
			if perm, ok = c.authorize(msg); !ok {
				continue
			}
		}
		if !c.hub.enqueue(inbound{client: c, msg: msg, perm: perm}) {
			return
		}
	}
}

// authorize asks the hub's Authorizer, if any, whether this join may
// proceed. It runs on the read goroutine so the event loop never waits on
// the permission store.
func (c *Client) authorize(msg types.Message) (types.Permission, bool) {
	a := c.hub.getAuthorizer()
	if a == nil {
		return types.PermissionEdit, true
	}
	var p types.JoinPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil || p.NoteID == "" {
		// Malformed joins are dropped by the loop.
		return types.PermissionNone, true
	}
	userID := types.DescriptorFor(c.ID, p.User).UserID

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.settings.AuthTimeout)
	defer cancel()
	perm, err := a.Authorize(ctx, p.NoteID, userID)
	if err != nil {
		c.hub.logger.Warn().Err(err).
			Str("client_id", c.ID).
			Str("note_id", p.NoteID).
			Msg("join authorization failed")
		perm = types.PermissionNone
	}
	if perm == types.PermissionNone {
		c.hub.recorder.EventHandled(msg.Event, OutcomeDenied)
		c.hub.logger.Info().
			Str("client_id", c.ID).
			Str("note_id", p.NoteID).
			Str("user_id", userID).
			Msg("join denied")
		return perm, false
	}
	return perm, true
}

// WritePump writes messages from the send channel to the WebSocket and
// pings the peer on the hub's ping interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.settings.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}

// isDecodeError reports a bad frame payload, as opposed to a failed
// transport. A truncated frame read by a streaming decoder surfaces as
// io.ErrUnexpectedEOF; a lost connection is reported as a close error.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
