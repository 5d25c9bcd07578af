package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
)

// Authorizer resolves a user's permission on a note before a join is
// accepted. Defined here to avoid circular imports with the permissions package.
type Authorizer interface {
	Authorize(ctx context.Context, noteID, userID string) (types.Permission, error)
}

// Recorder receives hub activity for metrics.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomsChanged(n int)
	EventHandled(event, outcome string)
	MessageDropped(event string)
	Broadcast(event string)
}

// Event outcomes reported to the Recorder.
const (
	OutcomeHandled = "handled"
	OutcomeIgnored = "ignored"
	OutcomeDropped = "dropped"
	OutcomeDenied  = "denied"
)

// Settings tunes per-client behaviour. Zero values fall back to
// config.DefaultConfig.
type Settings struct {
	SendBuffer   int
	PingInterval time.Duration
	AuthTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	d := config.DefaultConfig()
	if s.SendBuffer <= 0 {
		s.SendBuffer = d.SendBufferSize
	}
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingPeriod()
	}
	if s.AuthTimeout <= 0 {
		s.AuthTimeout = d.AuthDeadline()
	}
	return s
}

// Hub owns every live connection and the presence table of a single
// process. All mutation happens on the Run goroutine; events from one
// client are applied in the order its read pump delivered them.
type Hub struct {
	clients map[string]*Client
	table   *presenceTable
	active  atomic.Int64

	register chan *Client
	incoming chan inbound

	handlers map[string]func(inbound) string

	authorizer Authorizer
	recorder   Recorder
	settings   Settings

	mu       sync.RWMutex
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// inbound is one queued client event. closed marks a transport loss.
type inbound struct {
	client *Client
	msg    types.Message
	perm   types.Permission
	closed bool
}

// New creates a new Hub instance.
func New(logger zerolog.Logger, settings Settings) *Hub {
	settings = settings.withDefaults()
	h := &Hub{
		clients:  make(map[string]*Client),
		table:    newPresenceTable(),
		register: make(chan *Client),
		incoming: make(chan inbound, 256),
		recorder: nopRecorder{},
		settings: settings,
		logger:   logger.With().Str("component", "hub").Logger(),
		done:     make(chan struct{}),
	}
	h.handlers = map[string]func(inbound) string{
		types.EventJoinNote:      h.join,
		types.EventLeaveNote:     h.leave,
		types.EventEditorChanges: h.relayDelta,
		types.EventCursorUpdate:  h.relayCursor,
	}
	return h
}

// SetAuthorizer enables permission checks on join. Call before Run.
func (h *Hub) SetAuthorizer(a Authorizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authorizer = a
}

// SetRecorder attaches a metrics recorder. Call before Run.
func (h *Hub) SetRecorder(r Recorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r == nil {
		r = nopRecorder{}
	}
	h.recorder = r
}

func (h *Hub) getAuthorizer() Authorizer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authorizer
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case in := <-h.incoming:
			if in.closed {
				h.removeClient(in.client)
				continue
			}
			h.handleMessage(in)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub event loop and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register queues a client for registration and waits until the loop has
// accepted it.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister queues a client for removal behind any events it already sent.
func (h *Hub) Unregister(c *Client) {
	h.enqueue(inbound{client: c, closed: true})
}

func (h *Hub) enqueue(in inbound) bool {
	select {
	case h.incoming <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		h.mu.Unlock()
		return
	}
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.active.Add(1)

	h.logger.Info().Str("client_id", c.ID).Msg("client registered")
	h.recorder.ConnectionOpened()
}

// removeClient reconciles a lost connection: it leaves every note the
// client was in and refreshes presence for the rooms that survive.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	notes := h.table.roomsContaining(c.ID)
	for _, noteID := range notes {
		h.table.remove(noteID, c.ID)
	}
	h.table.forget(c.ID)
	rooms := h.table.roomCount()
	h.mu.Unlock()

	h.decrementActive()
	c.Close()
	h.logger.Info().
		Str("client_id", c.ID).
		Int("notes", len(notes)).
		Msg("client unregistered")
	h.recorder.ConnectionClosed()
	h.recorder.RoomsChanged(rooms)

	for _, noteID := range notes {
		h.broadcastPresence(noteID)
	}
}

func (h *Hub) decrementActive() {
	for {
		n := h.active.Load()
		if n <= 0 {
			return
		}
		if h.active.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()           {}
func (nopRecorder) ConnectionClosed()           {}
func (nopRecorder) RoomsChanged(int)            {}
func (nopRecorder) EventHandled(string, string) {}
func (nopRecorder) MessageDropped(string)       {}
func (nopRecorder) Broadcast(string)            {}
