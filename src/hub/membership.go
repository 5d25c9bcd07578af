package hub

import (
	"encoding/json"

	"github.com/orchestra-mcp/collab/src/types"
)

// join adds the sender to a note's room, or refreshes its descriptor when
// it is already a member, then broadcasts presence to the whole room.
func (h *Hub) join(in inbound) string {
	var p types.JoinPayload
	if err := json.Unmarshal(in.msg.Data, &p); err != nil || p.NoteID == "" {
		return OutcomeDropped
	}
	clientID := in.msg.ClientID
	desc := types.DescriptorFor(clientID, p.User)

	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return OutcomeDropped
	}
	h.table.upsert(p.NoteID, clientID, member{desc: desc, perm: in.perm})
	rooms := h.table.roomCount()
	h.mu.Unlock()

	c.AddNote(p.NoteID)
	h.recorder.RoomsChanged(rooms)
	h.logger.Debug().
		Str("client_id", clientID).
		Str("note_id", p.NoteID).
		Str("user_id", desc.UserID).
		Msg("joined note")

	h.broadcastPresence(p.NoteID)
	return OutcomeHandled
}

// leave removes the sender from a note's room. Presence is re-broadcast
// only if the room still has members.
func (h *Hub) leave(in inbound) string {
	var p types.LeavePayload
	if err := json.Unmarshal(in.msg.Data, &p); err != nil || p.NoteID == "" {
		return OutcomeDropped
	}
	clientID := in.msg.ClientID

	h.mu.Lock()
	removed := h.table.remove(p.NoteID, clientID)
	remaining := h.table.hasRoom(p.NoteID)
	rooms := h.table.roomCount()
	c := h.clients[clientID]
	h.mu.Unlock()

	if !removed {
		return OutcomeIgnored
	}
	if c != nil {
		c.RemoveNote(p.NoteID)
	}
	h.recorder.RoomsChanged(rooms)
	h.logger.Debug().
		Str("client_id", clientID).
		Str("note_id", p.NoteID).
		Msg("left note")

	if remaining {
		h.broadcastPresence(p.NoteID)
	}
	return OutcomeHandled
}
