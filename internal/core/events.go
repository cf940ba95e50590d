package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a coordination event fanned out to websocket subscribers.
type EventType string

const (
	EventAgentRegistered     EventType = "agent.registered"
	EventAgentDeregistered   EventType = "agent.deregistered"
	EventAgentHeartbeat      EventType = "agent.heartbeat"
	EventMessageCreated      EventType = "message.created"
	EventMessageRead         EventType = "message.read"
	EventMessageAck          EventType = "message.ack"
	EventReservationCreated  EventType = "reservation.created"
	EventReservationReleased EventType = "reservation.released"
	EventReservationExpired  EventType = "reservation.expired"
	EventLinkRequested       EventType = "link.requested"
	EventLinkApproved        EventType = "link.approved"
	EventLinkBlocked         EventType = "link.blocked"
)

// Event is the envelope broadcast to subscribers of a project. Agent is the
// actor the event concerns; Payload shape depends on Type.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Project   string         `json:"project"`
	Agent     string         `json:"agent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps a fresh envelope.
func NewEvent(t EventType, project, agent string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Project:   project,
		Agent:     agent,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
