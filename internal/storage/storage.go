// Package storage defines the entity-store contract the coordination service
// runs on. All mutations happen inside caller-demarcated transactions so
// check-then-insert sequences (reservation conflicts, recipient fan-out)
// serialize on the store, not on in-process locks.
package storage

import (
	"context"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

// InboxItem is one inbox row: the message joined with the caller's own
// delivery record and sender display fields.
type InboxItem struct {
	Message    core.Message       `json:"message"`
	Kind       core.RecipientKind `json:"kind"`
	ReadTS     *time.Time         `json:"read_ts,omitempty"`
	AckTS      *time.Time         `json:"ack_ts,omitempty"`
	SenderName string             `json:"sender_name"`
	Project    string             `json:"project"`
}

// InboxQuery filters an inbox scan. AgentIDs carries one id for a plain
// inbox and several for a product-wide inbox.
type InboxQuery struct {
	AgentIDs   []int64
	UnreadOnly bool
	Limit      int
}

// PurgeFilter selects reservation rows the sweeper may delete: rows released
// or expired before Cutoff whose owner has been idle since OwnerIdleSince or
// deregistered.
type PurgeFilter struct {
	Cutoff         time.Time
	OwnerIdleSince time.Time
}

// PurgedReservation is a deleted row enriched with display fields for the
// expiry event.
type PurgedReservation struct {
	core.FileReservation
	ProjectSlug string
	AgentName   string
}

// Store opens transactions against the entity store.
//
// View runs fn in a read-only transaction, Update in a writing one. fn's
// error aborts the transaction; Update commits only when fn returns nil.
// Neither partial state nor dirty reads are ever observable outside fn.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the entity CRUD surface available inside a transaction. Create
// methods assign the record's ID. Lookups return core.ErrNotFound for
// missing rows; inserts violating a uniqueness constraint return
// core.ErrDuplicate.
type Tx interface {
	// Projects and products.
	CreateProject(p *core.Project) error
	ProjectByID(id int64) (*core.Project, error)
	ProjectBySlug(slug string) (*core.Project, error)
	ListProjects() ([]core.Project, error)
	CreateProduct(p *core.Product) error
	ProductByUID(uid string) (*core.Product, error)
	ProductByName(name string) (*core.Product, error)
	AddProductProject(l *core.ProductProjectLink) error
	ProductProjects(productID int64) ([]core.Project, error)

	// Agents.
	CreateAgent(a *core.Agent) error
	SaveAgent(a *core.Agent) error
	AgentByID(id int64) (*core.Agent, error)
	AgentByName(projectID int64, name string) (*core.Agent, error)
	ListAgents(projectID int64, includeDeregistered bool) ([]core.Agent, error)
	TouchAgent(id int64, at time.Time) error

	// Messages and recipients.
	CreateMessage(m *core.Message) error
	MessageByID(id int64) (*core.Message, error)
	AddRecipient(r *core.MessageRecipient) error
	Recipients(messageID int64) ([]core.MessageRecipient, error)
	Recipient(messageID, agentID int64) (*core.MessageRecipient, error)
	SetRecipientRead(messageID, agentID int64, at time.Time) error
	SetRecipientAck(messageID, agentID int64, at time.Time) error
	Inbox(q InboxQuery) ([]InboxItem, error)
	ThreadMessages(projectID int64, threadKey string) ([]core.Message, error)

	// File reservations.
	CreateReservation(r *core.FileReservation) error
	ReservationByID(id int64) (*core.FileReservation, error)
	ActiveReservations(projectID int64, now time.Time) ([]core.FileReservation, error)
	ReleaseReservation(id int64, at time.Time) error
	PurgeReservations(f PurgeFilter) ([]PurgedReservation, error)

	// Agent links.
	CreateLink(l *core.AgentLink) error
	LinkByID(id int64) (*core.AgentLink, error)
	LinkByEndpoints(aProjectID, aAgentID, bProjectID, bAgentID int64) (*core.AgentLink, error)
	SaveLink(l *core.AgentLink) error
	ListLinksForAgent(agentID int64) ([]core.AgentLink, error)

	// Sibling suggestions.
	CreateSuggestion(s *core.ProjectSiblingSuggestion) error
	SuggestionByID(id int64) (*core.ProjectSiblingSuggestion, error)
	SuggestionByPair(projectAID, projectBID int64) (*core.ProjectSiblingSuggestion, error)
	SaveSuggestion(s *core.ProjectSiblingSuggestion) error
	ListSuggestions(projectID int64) ([]core.ProjectSiblingSuggestion, error)
}
