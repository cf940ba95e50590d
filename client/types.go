package client

import "time"

// Mirrors of the server's wire types. Field names and tags track the JSON
// the API emits; the client deliberately does not import server packages.

type Project struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	HumanKey  string    `json:"human_key"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID         int64     `json:"id"`
	ProductUID string    `json:"product_uid"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

type Agent struct {
	ID                int64      `json:"id"`
	ProjectID         int64      `json:"project_id"`
	Name              string     `json:"name"`
	Program           string     `json:"program"`
	Model             string     `json:"model"`
	TaskDescription   string     `json:"task_description"`
	InceptionTS       time.Time  `json:"inception_ts"`
	LastActiveTS      time.Time  `json:"last_active_ts"`
	AttachmentsPolicy string     `json:"attachments_policy"`
	ContactPolicy     string     `json:"contact_policy"`
	DeregisteredTS    *time.Time `json:"deregistered_ts,omitempty"`
	// Project and State are derived fields the API adds to the record.
	Project string `json:"project,omitempty"`
	State   string `json:"state,omitempty"`
}

type Attachment struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Pointer string `json:"pointer"`
	Name    string `json:"name,omitempty"`
}

type Message struct {
	ID          int64        `json:"id"`
	ProjectID   int64        `json:"project_id"`
	SenderID    int64        `json:"sender_id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Subject     string       `json:"subject"`
	BodyMD      string       `json:"body_md"`
	Importance  string       `json:"importance"`
	AckRequired bool         `json:"ack_required"`
	CreatedTS   time.Time    `json:"created_ts"`
	Attachments []Attachment `json:"attachments"`
}

type MessageRecipient struct {
	MessageID int64      `json:"message_id"`
	AgentID   int64      `json:"agent_id"`
	Kind      string     `json:"kind"`
	ReadTS    *time.Time `json:"read_ts,omitempty"`
	AckTS     *time.Time `json:"ack_ts,omitempty"`
}

// SentMessage is the send response: the stored message plus the canonical
// project:name addresses it was delivered to.
type SentMessage struct {
	Message Message  `json:"message"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
}

// MessageView is a message with its per-recipient delivery state.
type MessageView struct {
	Message    Message            `json:"message"`
	Recipients []MessageRecipient `json:"recipients"`
}

// InboxItem is one inbox entry. Project names the project the message
// belongs to, which matters for product-wide inboxes spanning projects.
type InboxItem struct {
	Message    Message    `json:"message"`
	Kind       string     `json:"kind"`
	ReadTS     *time.Time `json:"read_ts,omitempty"`
	AckTS      *time.Time `json:"ack_ts,omitempty"`
	SenderName string     `json:"sender_name"`
	Project    string     `json:"project"`
}

type Reservation struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	AgentID     int64      `json:"agent_id"`
	PathPattern string     `json:"path_pattern"`
	Exclusive   bool       `json:"exclusive"`
	Reason      string     `json:"reason"`
	CreatedTS   time.Time  `json:"created_ts"`
	ExpiresTS   time.Time  `json:"expires_ts"`
	ReleasedTS  *time.Time `json:"released_ts,omitempty"`
	State       string     `json:"state,omitempty"`
}

type Link struct {
	ID         int64      `json:"id"`
	AProjectID int64      `json:"a_project_id"`
	AAgentID   int64      `json:"a_agent_id"`
	BProjectID int64      `json:"b_project_id"`
	BAgentID   int64      `json:"b_agent_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	CreatedTS  time.Time  `json:"created_ts"`
	UpdatedTS  time.Time  `json:"updated_ts"`
	ExpiresTS  *time.Time `json:"expires_ts,omitempty"`
}

// Decision is a contact-policy check outcome.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

type RecipientDenial struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type SiblingSuggestion struct {
	ID          int64     `json:"id"`
	ProjectAID  int64     `json:"project_a_id"`
	ProjectBID  int64     `json:"project_b_id"`
	Score       float64   `json:"score"`
	Status      string    `json:"status"`
	Rationale   string    `json:"rationale"`
	CreatedTS   time.Time `json:"created_ts"`
	EvaluatedTS time.Time `json:"evaluated_ts"`
}

// Event is the envelope the WebSocket gateway pushes to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Project   string         `json:"project"`
	Agent     string         `json:"agent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event type constants, matching the server's envelope types.
const (
	EventAgentRegistered     = "agent.registered"
	EventAgentDeregistered   = "agent.deregistered"
	EventAgentHeartbeat      = "agent.heartbeat"
	EventMessageCreated      = "message.created"
	EventMessageRead         = "message.read"
	EventMessageAck          = "message.ack"
	EventReservationCreated  = "reservation.created"
	EventReservationReleased = "reservation.released"
	EventReservationExpired  = "reservation.expired"
	EventLinkRequested       = "link.requested"
	EventLinkApproved        = "link.approved"
	EventLinkBlocked         = "link.blocked"
)

// RegisterAgentRequest registers or refreshes an agent. Empty Name asks the
// server for a generated call sign.
type RegisterAgentRequest struct {
	Project           string `json:"project"`
	HumanKey          string `json:"human_key,omitempty"`
	Name              string `json:"name,omitempty"`
	Program           string `json:"program,omitempty"`
	Model             string `json:"model,omitempty"`
	TaskDescription   string `json:"task_description,omitempty"`
	AttachmentsPolicy string `json:"attachments_policy,omitempty"`
	ContactPolicy     string `json:"contact_policy,omitempty"`
}

// SendRequest sends a message. To and CC take agent names, or project:name
// addresses for cross-project mail.
type SendRequest struct {
	Project     string       `json:"project"`
	Sender      string       `json:"sender"`
	To          []string     `json:"to"`
	CC          []string     `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	BodyMD      string       `json:"body_md,omitempty"`
	Importance  string       `json:"importance,omitempty"`
	AckRequired bool         `json:"ack_required,omitempty"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ReserveRequest claims path patterns. A nil Exclusive means exclusive;
// TTLSeconds 0 takes the server default of one hour.
type ReserveRequest struct {
	Project    string   `json:"project"`
	Agent      string   `json:"agent"`
	Patterns   []string `json:"patterns"`
	Exclusive  *bool    `json:"exclusive,omitempty"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// LinkRequest asks for a contact link from one agent to another.
// TTLSeconds bounds the link's life after approval; 0 means no expiry.
type LinkRequest struct {
	FromProject string `json:"from_project"`
	FromAgent   string `json:"from_agent"`
	ToProject   string `json:"to_project"`
	ToAgent     string `json:"to_agent"`
	Reason      string `json:"reason,omitempty"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}
