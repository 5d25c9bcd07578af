package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event names carried on the wire.
const (
	EventJoinNote      = "join-note"
	EventLeaveNote     = "leave-note"
	EventEditorChanges = "editor-changes"
	EventCursorUpdate  = "cursor-update"
	EventPresence      = "presence"
)

// Descriptor fallbacks used when a joining client omits a field.
const (
	DefaultName  = "Anonymous"
	DefaultColor = "#9e9e9e"
)

// Message is a WebSocket frame in either direction.
type Message struct {
	Event     string          `json:"event"`
	NoteID    string          `json:"noteId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserInfo is the optional identity a client supplies when joining a note.
type UserInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// Descriptor identifies a user inside a room's presence list.
type Descriptor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// DescriptorFor builds a presence descriptor, filling missing fields with
// the connection id and the default name and color.
func DescriptorFor(clientID string, u *UserInfo) Descriptor {
	d := Descriptor{UserID: clientID, Name: DefaultName, Color: DefaultColor}
	if u == nil {
		return d
	}
	if u.ID != "" {
		d.UserID = u.ID
	}
	if u.Name != "" {
		d.Name = u.Name
	}
	if u.Color != "" {
		d.Color = u.Color
	}
	return d
}

// JoinPayload is the data of a join-note event.
type JoinPayload struct {
	NoteID string    `json:"noteId"`
	User   *UserInfo `json:"user,omitempty"`
}

// LeavePayload is the data of a leave-note event.
type LeavePayload struct {
	NoteID string `json:"noteId"`
}

// EditorChangesPayload is the data of an editor-changes event. Delta is
// relayed verbatim and never interpreted.
type EditorChangesPayload struct {
	NoteID string          `json:"noteId"`
	Delta  json.RawMessage `json:"delta,omitempty"`
}

// CursorPayload is the data of a cursor-update event.
type CursorPayload struct {
	NoteID string          `json:"noteId"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
}

// IsNull reports whether a raw payload is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Permission is a user's access level on a note.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionView
	PermissionEdit
)

func (p Permission) String() string {
	switch p {
	case PermissionView:
		return "view"
	case PermissionEdit:
		return "edit"
	default:
		return "none"
	}
}

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	Notes       []string  `json:"notes"`
}

// RoomInfo summarises one active room.
type RoomInfo struct {
	NoteID  string `json:"noteId"`
	Members int    `json:"members"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
	Close() error
}
