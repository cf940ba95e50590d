package core

import (
	"strconv"
	"time"
)

// ContactPolicy controls who may deliver mail to an agent. It only gates
// cross-project contact; agents in the same project can always reach each
// other.
type ContactPolicy string

const (
	// ContactOpen accepts mail from any agent.
	ContactOpen ContactPolicy = "open"
	// ContactAuto accepts mail unless the sender has been explicitly blocked.
	ContactAuto ContactPolicy = "auto"
	// ContactContactsOnly requires an approved link from the sender.
	ContactContactsOnly ContactPolicy = "contacts_only"
	// ContactBlockAll refuses all cross-project mail.
	ContactBlockAll ContactPolicy = "block_all"
)

// ValidContactPolicy reports whether s is one of the known policies.
func ValidContactPolicy(s string) bool {
	switch ContactPolicy(s) {
	case ContactOpen, ContactAuto, ContactContactsOnly, ContactBlockAll:
		return true
	}
	return false
}

// Importance is the sender-declared priority of a message.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// ValidImportance reports whether s is one of the known importance levels.
func ValidImportance(s string) bool {
	switch Importance(s) {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// RecipientKind distinguishes primary recipients from carbon copies.
type RecipientKind string

const (
	KindTo RecipientKind = "to"
	KindCC RecipientKind = "cc"
)

// LinkStatus is the lifecycle state of a directed agent link.
// Transitions: pending -> approved, pending -> blocked, approved -> blocked.
// Blocked is terminal.
type LinkStatus string

const (
	LinkPending  LinkStatus = "pending"
	LinkApproved LinkStatus = "approved"
	LinkBlocked  LinkStatus = "blocked"
)

// SuggestionStatus is the lifecycle state of a sibling-project suggestion.
type SuggestionStatus string

const (
	SuggestionSuggested SuggestionStatus = "suggested"
	SuggestionConfirmed SuggestionStatus = "confirmed"
	SuggestionDismissed SuggestionStatus = "dismissed"
)

// AgentState is the explicit lifecycle state derived from deregistered_ts.
type AgentState string

const (
	AgentActive       AgentState = "active"
	AgentDeregistered AgentState = "deregistered"
)

// ReservationState is the explicit lifecycle state of a file reservation.
type ReservationState string

const (
	ReservationActive   ReservationState = "active"
	ReservationReleased ReservationState = "released"
	ReservationExpired  ReservationState = "expired"
)

// Project is a single repository that agents register into.
type Project struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	HumanKey  string    `json:"human_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Product groups multiple projects for product-wide inbox and search.
type Product struct {
	ID         int64     `json:"id"`
	ProductUID string    `json:"product_uid"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProductProjectLink attaches a project to a product. Unique per pair.
type ProductProjectLink struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	ProjectID int64     `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a named actor scoped to one project. Name is unique within the
// project. Deregistration is a soft delete: history remains queryable but the
// agent can no longer receive mail or hold new reservations.
type Agent struct {
	ID                int64         `json:"id"`
	ProjectID         int64         `json:"project_id"`
	Name              string        `json:"name"`
	Program           string        `json:"program"`
	Model             string        `json:"model"`
	TaskDescription   string        `json:"task_description"`
	InceptionTS       time.Time     `json:"inception_ts"`
	LastActiveTS      time.Time     `json:"last_active_ts"`
	AttachmentsPolicy string        `json:"attachments_policy"`
	ContactPolicy     ContactPolicy `json:"contact_policy"`
	DeregisteredTS    *time.Time    `json:"deregistered_ts,omitempty"`
}

// State returns the explicit lifecycle state of the agent.
func (a *Agent) State() AgentState {
	if a.DeregisteredTS != nil {
		return AgentDeregistered
	}
	return AgentActive
}

// Active reports whether the agent may act, receive mail and hold
// reservations.
func (a *Agent) Active() bool { return a.DeregisteredTS == nil }

// Message is an immutable unit of communication scoped to a project. Rows are
// never updated after insert; read/ack state lives on MessageRecipient.
type Message struct {
	ID          int64        `json:"id"`
	ProjectID   int64        `json:"project_id"`
	SenderID    int64        `json:"sender_id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Subject     string       `json:"subject"`
	BodyMD      string       `json:"body_md"`
	Importance  Importance   `json:"importance"`
	AckRequired bool         `json:"ack_required"`
	CreatedTS   time.Time    `json:"created_ts"`
	Attachments []Attachment `json:"attachments"`
}

// ThreadKey returns the key that identifies this message's thread: the
// explicit thread id when one was supplied at send time, otherwise the
// message's own id. A message without a thread id is its own thread root.
func (m *Message) ThreadKey() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return strconv.FormatInt(m.ID, 10)
}

// MessageRecipient is the per-recipient delivery record for a message.
// read_ts and ack_ts are each set at most once and never cleared.
type MessageRecipient struct {
	MessageID int64         `json:"message_id"`
	AgentID   int64         `json:"agent_id"`
	Kind      RecipientKind `json:"kind"`
	ReadTS    *time.Time    `json:"read_ts,omitempty"`
	AckTS     *time.Time    `json:"ack_ts,omitempty"`
}

// FileReservation is one agent's claim on a path pattern within a project.
// Reservations are never renewed in place; renewal creates a new record.
type FileReservation struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	AgentID     int64      `json:"agent_id"`
	PathPattern string     `json:"path_pattern"`
	Exclusive   bool       `json:"exclusive"`
	Reason      string     `json:"reason"`
	CreatedTS   time.Time  `json:"created_ts"`
	ExpiresTS   time.Time  `json:"expires_ts"`
	ReleasedTS  *time.Time `json:"released_ts,omitempty"`
}

// State returns the explicit lifecycle state of the reservation at now.
func (r *FileReservation) State(now time.Time) ReservationState {
	if r.ReleasedTS != nil {
		return ReservationReleased
	}
	if !r.ExpiresTS.After(now) {
		return ReservationExpired
	}
	return ReservationActive
}

// ActiveAt reports whether the reservation still holds at now. Expiry is
// evaluated lazily at query time; there is no eviction requirement.
func (r *FileReservation) ActiveAt(now time.Time) bool {
	return r.ReleasedTS == nil && r.ExpiresTS.After(now)
}

// AgentLink is a directed contact grant request from agent A to agent B,
// each identified by a (project, agent) pair. The reverse direction is a
// distinct record.
type AgentLink struct {
	ID         int64      `json:"id"`
	AProjectID int64      `json:"a_project_id"`
	AAgentID   int64      `json:"a_agent_id"`
	BProjectID int64      `json:"b_project_id"`
	BAgentID   int64      `json:"b_agent_id"`
	Status     LinkStatus `json:"status"`
	Reason     string     `json:"reason"`
	CreatedTS  time.Time  `json:"created_ts"`
	UpdatedTS  time.Time  `json:"updated_ts"`
	ExpiresTS  *time.Time `json:"expires_ts,omitempty"`
}

// UsableAt reports whether an approved link still grants contact at now.
func (l *AgentLink) UsableAt(now time.Time) bool {
	if l.Status != LinkApproved {
		return false
	}
	return l.ExpiresTS == nil || l.ExpiresTS.After(now)
}

// ProjectSiblingSuggestion records that two projects look related. Undirected
// and unique per unordered pair; scoring happens outside this server.
type ProjectSiblingSuggestion struct {
	ID          int64            `json:"id"`
	ProjectAID  int64            `json:"project_a_id"`
	ProjectBID  int64            `json:"project_b_id"`
	Score       float64          `json:"score"`
	Status      SuggestionStatus `json:"status"`
	Rationale   string           `json:"rationale"`
	CreatedTS   time.Time        `json:"created_ts"`
	EvaluatedTS time.Time        `json:"evaluated_ts"`
	ConfirmedTS *time.Time       `json:"confirmed_ts,omitempty"`
	DismissedTS *time.Time       `json:"dismissed_ts,omitempty"`
}

// NormalizePair orders two project ids so unordered pairs store canonically.
func NormalizePair(a, b int64) (int64, int64) {
	if b < a {
		return b, a
	}
	return a, b
}
