// Package postmaster implements the coordination operations: agent registry,
// contact-policy resolution, file reservations, message dispatch, contact
// links and sibling suggestions. Every mutating operation runs as one store
// transaction; events fan out only after the transaction commits.
package postmaster

import (
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// Broadcaster receives coordination events for fan-out to subscribers.
// Project and agent address the subscription the event belongs to.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// Service owns the coordination operations on top of the entity store.
type Service struct {
	store storage.Store
	bus   Broadcaster
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithBroadcaster wires the event bus. Nil is fine; events are then dropped.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// emit fans out events collected during a committed transaction. Never called
// for aborted transactions, so subscribers only ever see durable state.
func (s *Service) emit(events []core.Event) {
	if s.bus == nil {
		return
	}
	for _, ev := range events {
		s.bus.Broadcast(ev.Project, ev.Agent, ev)
	}
}

// lookupAgent resolves a (project slug, agent name) endpoint to its records.
// Missing project or agent both mean the endpoint does not resolve.
func lookupAgent(tx storage.Tx, project, name string) (*core.Agent, *core.Project, error) {
	p, err := tx.ProjectBySlug(project)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s:%s: %w", project, name, core.ErrUnknownAgent)
		}
		return nil, nil, err
	}
	a, err := tx.AgentByName(p.ID, name)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s:%s: %w", project, name, core.ErrUnknownAgent)
		}
		return nil, nil, err
	}
	return a, p, nil
}

// activeAgent resolves an acting endpoint. Deregistered agents cannot act;
// they come back by re-registering.
func activeAgent(tx storage.Tx, project, name string) (*core.Agent, *core.Project, error) {
	a, p, err := lookupAgent(tx, project, name)
	if err != nil {
		return nil, nil, err
	}
	if !a.Active() {
		return nil, nil, fmt.Errorf("%s:%s deregistered: %w", project, name, core.ErrUnknownAgent)
	}
	return a, p, nil
}
