package hub

import (
	"encoding/json"

	"github.com/orchestra-mcp/collab/src/types"
)

func (h *Hub) handleMessage(in inbound) {
	handler, ok := h.handlers[in.msg.Event]
	if !ok {
		h.logger.Debug().Str("event", in.msg.Event).Msg("no handler")
		h.recorder.EventHandled(in.msg.Event, OutcomeDropped)
		return
	}
	outcome := handler(in)
	if outcome == OutcomeDropped {
		h.logger.Debug().
			Str("client_id", in.msg.ClientID).
			Str("event", in.msg.Event).
			Msg("malformed event dropped")
	}
	h.recorder.EventHandled(in.msg.Event, outcome)
}

// relayDelta forwards an editor delta verbatim to every other member.
func (h *Hub) relayDelta(in inbound) string {
	var p types.EditorChangesPayload
	if err := json.Unmarshal(in.msg.Data, &p); err != nil || p.NoteID == "" || types.IsNull(p.Delta) {
		return OutcomeDropped
	}
	if !h.mayRelay(p.NoteID, in.msg.ClientID, types.PermissionEdit) {
		return OutcomeDenied
	}
	h.sendToRoom(p.NoteID, types.Message{
		Event:     types.EventEditorChanges,
		NoteID:    p.NoteID,
		Data:      p.Delta,
		ClientID:  in.msg.ClientID,
		Timestamp: in.msg.Timestamp,
	}, in.msg.ClientID)
	return OutcomeHandled
}

// relayCursor forwards a cursor position verbatim to every other member.
func (h *Hub) relayCursor(in inbound) string {
	var p types.CursorPayload
	if err := json.Unmarshal(in.msg.Data, &p); err != nil || p.NoteID == "" || types.IsNull(p.Cursor) {
		return OutcomeDropped
	}
	if !h.mayRelay(p.NoteID, in.msg.ClientID, types.PermissionView) {
		return OutcomeDenied
	}
	h.sendToRoom(p.NoteID, types.Message{
		Event:     types.EventCursorUpdate,
		NoteID:    p.NoteID,
		Data:      p.Cursor,
		ClientID:  in.msg.ClientID,
		Timestamp: in.msg.Timestamp,
	}, in.msg.ClientID)
	return OutcomeHandled
}

// mayRelay only restricts senders when join authorization is enabled.
func (h *Hub) mayRelay(noteID, clientID string, need types.Permission) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.authorizer == nil {
		return true
	}
	m, ok := h.table.lookup(noteID, clientID)
	return ok && m.perm >= need
}

// broadcastPresence sends the room's current member list to every member,
// including the one whose join triggered it.
func (h *Hub) broadcastPresence(noteID string) {
	h.mu.RLock()
	members := h.table.membersOf(noteID)
	h.mu.RUnlock()
	if len(members) == 0 {
		return
	}

	data, err := json.Marshal(members)
	if err != nil {
		h.logger.Error().Err(err).Str("note_id", noteID).Msg("presence encode failed")
		return
	}
	h.sendToRoom(noteID, types.Message{
		Event:     types.EventPresence,
		NoteID:    noteID,
		Data:      data,
		Timestamp: timeNow(),
	}, "")
}

// sendToRoom delivers msg to every member except the one named by except.
// A recipient with a full queue is skipped.
func (h *Hub) sendToRoom(noteID string, msg types.Message, except string) {
	h.mu.RLock()
	ids := h.table.clientsOf(noteID)
	h.mu.RUnlock()
	if len(ids) == 0 {
		return
	}
	h.recorder.Broadcast(msg.Event)

	for _, id := range ids {
		if id == except {
			continue
		}
		h.mu.RLock()
		client, exists := h.clients[id]
		h.mu.RUnlock()
		if !exists {
			continue
		}
		select {
		case client.Send <- msg:
		default:
			h.logger.Warn().
				Str("client_id", id).
				Str("event", msg.Event).
				Msg("send buffer full, dropping")
			h.recorder.MessageDropped(msg.Event)
		}
	}
}
