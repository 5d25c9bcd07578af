package hub

import (
	"slices"
	"sort"

	"github.com/orchestra-mcp/collab/src/types"
)

type member struct {
	desc types.Descriptor
	perm types.Permission
}

type room struct {
	order   []string // client IDs in join order
	members map[string]member
}

// presenceTable maps note IDs to their members and keeps a client -> notes
// reverse index in step with every mutation. A room with no members is
// never retained.
type presenceTable struct {
	rooms  map[string]*room
	byConn map[string]map[string]struct{}
}

func newPresenceTable() *presenceTable {
	return &presenceTable{
		rooms:  make(map[string]*room),
		byConn: make(map[string]map[string]struct{}),
	}
}

// upsert inserts or overwrites a member. A rejoin keeps its original slot.
func (t *presenceTable) upsert(noteID, clientID string, m member) {
	r, ok := t.rooms[noteID]
	if !ok {
		r = &room{members: make(map[string]member)}
		t.rooms[noteID] = r
	}
	if _, exists := r.members[clientID]; !exists {
		r.order = append(r.order, clientID)
	}
	r.members[clientID] = m

	notes, ok := t.byConn[clientID]
	if !ok {
		notes = make(map[string]struct{})
		t.byConn[clientID] = notes
	}
	notes[noteID] = struct{}{}
}

// remove deletes a member and reports whether it was present.
func (t *presenceTable) remove(noteID, clientID string) bool {
	r, ok := t.rooms[noteID]
	if !ok {
		return false
	}
	if _, ok := r.members[clientID]; !ok {
		return false
	}
	delete(r.members, clientID)
	if i := slices.Index(r.order, clientID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	if len(r.members) == 0 {
		delete(t.rooms, noteID)
	}

	if notes, ok := t.byConn[clientID]; ok {
		delete(notes, noteID)
		if len(notes) == 0 {
			delete(t.byConn, clientID)
		}
	}
	return true
}

// forget drops whatever is left of a client's reverse index entry.
func (t *presenceTable) forget(clientID string) {
	delete(t.byConn, clientID)
}

func (t *presenceTable) membersOf(noteID string) []types.Descriptor {
	r, ok := t.rooms[noteID]
	if !ok {
		return nil
	}
	out := make([]types.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].desc)
	}
	return out
}

// clientsOf returns the client IDs in a room, in join order.
func (t *presenceTable) clientsOf(noteID string) []string {
	r, ok := t.rooms[noteID]
	if !ok {
		return nil
	}
	return slices.Clone(r.order)
}

// roomsContaining returns the notes a client is in, sorted.
func (t *presenceTable) roomsContaining(clientID string) []string {
	notes := t.byConn[clientID]
	out := make([]string, 0, len(notes))
	for id := range notes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *presenceTable) lookup(noteID, clientID string) (member, bool) {
	r, ok := t.rooms[noteID]
	if !ok {
		return member{}, false
	}
	m, ok := r.members[clientID]
	return m, ok
}

func (t *presenceTable) hasRoom(noteID string) bool {
	_, ok := t.rooms[noteID]
	return ok
}

func (t *presenceTable) roomCount() int {
	return len(t.rooms)
}

// summary returns every room with its member count, sorted by note ID.
func (t *presenceTable) summary() []types.RoomInfo {
	out := make([]types.RoomInfo, 0, len(t.rooms))
	for id, r := range t.rooms {
		out = append(out, types.RoomInfo{NoteID: id, Members: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteID < out[j].NoteID })
	return out
}
