package service

import (
	"fmt"

	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
)

// Stats is a point-in-time summary of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
}

// Service provides the read-only collaboration API used by admin routes.
type Service struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// New creates a new collaboration service backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger) *Service {
	return &Service{hub: h, logger: logger}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// ActiveConnections returns the live connection count.
func (s *Service) ActiveConnections() int {
	return s.hub.ActiveCount()
}

// GetStats returns connection, room and membership totals.
func (s *Service) GetStats() Stats {
	rooms := s.hub.Rooms()
	members := 0
	for _, r := range rooms {
		members += r.Members
	}
	return Stats{
		Connections: s.hub.ActiveCount(),
		Rooms:       len(rooms),
		Members:     members,
	}
}

// GetRooms returns active rooms with their member counts.
func (s *Service) GetRooms() []types.RoomInfo {
	return s.hub.Rooms()
}

// GetPresence returns the presence list of a note, or an error if nobody
// is in it.
func (s *Service) GetPresence(noteID string) ([]types.Descriptor, error) {
	members, ok := s.hub.Presence(noteID)
	if !ok {
		s.logger.Debug().Str("note_id", noteID).Msg("presence requested for inactive note")
		return nil, fmt.Errorf("note %s has no active room", noteID)
	}
	return members, nil
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClientInfo returns info for a connected client, or error.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}
