package hub

import (
	"sort"

	"github.com/orchestra-mcp/collab/src/types"
)

// ActiveCount returns the number of live connections. Safe from any goroutine.
func (h *Hub) ActiveCount() int {
	return int(h.active.Load())
}

// ConnectedClients returns a sorted list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	sort.Strings(info.Notes)
	return &info
}

// Rooms returns every active room with its member count.
func (h *Hub) Rooms() []types.RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table.summary()
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table.roomCount()
}

// Presence returns the member descriptors of a room and whether it exists.
func (h *Hub) Presence(noteID string) ([]types.Descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.table.hasRoom(noteID) {
		return nil, false
	}
	return h.table.membersOf(noteID), true
}

// NotesOf returns the notes a client is currently in, from the reverse index.
func (h *Hub) NotesOf(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table.roomsContaining(clientID)
}
