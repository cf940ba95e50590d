package postmaster

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// LinkRequest asks for contact from one agent to another. TTL of zero means
// the link, once approved, never expires.
type LinkRequest struct {
	FromProject string        `json:"from_project"`
	FromAgent   string        `json:"from_agent"`
	ToProject   string        `json:"to_project"`
	ToAgent     string        `json:"to_agent"`
	Reason      string        `json:"reason,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty"`
}

// RequestLink creates a pending link from the requester to the target.
// Re-requesting a pending or approved link returns the existing record
// unchanged; re-requesting over a blocked link fails with ErrLinkBlocked.
func (s *Service) RequestLink(ctx context.Context, req LinkRequest) (*core.AgentLink, error) {
	if req.TTL < 0 {
		return nil, core.Invalidf("ttl must not be negative")
	}
	var (
		link   *core.AgentLink
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		from, fromProject, err := activeAgent(tx, req.FromProject, req.FromAgent)
		if err != nil {
			return err
		}
		to, toProject, err := activeAgent(tx, req.ToProject, req.ToAgent)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return core.Invalidf("cannot link an agent to itself")
		}
		now := s.now()

		existing, err := tx.LinkByEndpoints(fromProject.ID, from.ID, toProject.ID, to.ID)
		switch {
		case err == nil:
			if existing.Status == core.LinkBlocked {
				return core.ErrLinkBlocked
			}
			link = existing
			return tx.TouchAgent(from.ID, now)
		case !errors.Is(err, core.ErrNotFound):
			return err
		}

		l := &core.AgentLink{
			AProjectID: fromProject.ID,
			AAgentID:   from.ID,
			BProjectID: toProject.ID,
			BAgentID:   to.ID,
			Status:     core.LinkPending,
			Reason:     req.Reason,
			CreatedTS:  now,
			UpdatedTS:  now,
		}
		if req.TTL > 0 {
			expires := now.Add(req.TTL)
			l.ExpiresTS = &expires
		}
		if err := tx.CreateLink(l); err != nil {
			return err
		}
		link = l
		events = append(events, core.NewEvent(core.EventLinkRequested, toProject.Slug, to.Name, map[string]any{
			"link_id": l.ID,
			"from":    fromProject.Slug + ":" + from.Name,
			"reason":  req.Reason,
		}))
		return tx.TouchAgent(from.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return link, nil
}

// ApproveLink moves a pending link to approved. Only the link's target may
// approve. Approving twice is a no-op; a blocked link stays blocked.
func (s *Service) ApproveLink(ctx context.Context, project, agent string, linkID int64) (*core.AgentLink, error) {
	var (
		link   *core.AgentLink
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		actor, proj, err := activeAgent(tx, project, agent)
		if err != nil {
			return err
		}
		l, err := tx.LinkByID(linkID)
		if err != nil {
			return err
		}
		if l.BProjectID != proj.ID || l.BAgentID != actor.ID {
			return core.ErrNotOwner
		}
		now := s.now()
		switch l.Status {
		case core.LinkBlocked:
			return core.ErrLinkBlocked
		case core.LinkPending:
			l.Status = core.LinkApproved
			l.UpdatedTS = now
			if err := tx.SaveLink(l); err != nil {
				return err
			}
			requester, err := tx.AgentByID(l.AAgentID)
			if err != nil {
				return err
			}
			requesterProject, err := tx.ProjectByID(l.AProjectID)
			if err != nil {
				return err
			}
			events = append(events, core.NewEvent(core.EventLinkApproved, requesterProject.Slug, requester.Name, map[string]any{
				"link_id": l.ID,
				"by":      proj.Slug + ":" + actor.Name,
			}))
		}
		link = l
		return tx.TouchAgent(actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return link, nil
}

// BlockLink moves a pending or approved link to blocked; either endpoint may
// block, and blocked is terminal. Blocking an already-blocked link is a
// no-op.
func (s *Service) BlockLink(ctx context.Context, project, agent string, linkID int64) (*core.AgentLink, error) {
	var (
		link   *core.AgentLink
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		actor, proj, err := activeAgent(tx, project, agent)
		if err != nil {
			return err
		}
		l, err := tx.LinkByID(linkID)
		if err != nil {
			return err
		}
		isA := l.AProjectID == proj.ID && l.AAgentID == actor.ID
		isB := l.BProjectID == proj.ID && l.BAgentID == actor.ID
		if !isA && !isB {
			return core.ErrNotOwner
		}
		now := s.now()
		if l.Status != core.LinkBlocked {
			l.Status = core.LinkBlocked
			l.UpdatedTS = now
			if err := tx.SaveLink(l); err != nil {
				return err
			}
			// Tell the other endpoint.
			otherAgentID, otherProjectID := l.AAgentID, l.AProjectID
			if isA {
				otherAgentID, otherProjectID = l.BAgentID, l.BProjectID
			}
			other, err := tx.AgentByID(otherAgentID)
			if err != nil {
				return err
			}
			otherProject, err := tx.ProjectByID(otherProjectID)
			if err != nil {
				return err
			}
			events = append(events, core.NewEvent(core.EventLinkBlocked, otherProject.Slug, other.Name, map[string]any{
				"link_id": l.ID,
				"by":      proj.Slug + ":" + actor.Name,
			}))
		}
		link = l
		return tx.TouchAgent(actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return link, nil
}

// ListLinks returns every link touching the agent, either direction.
func (s *Service) ListLinks(ctx context.Context, project, agent string) ([]core.AgentLink, error) {
	var links []core.AgentLink
	err := s.store.View(ctx, func(tx storage.Tx) error {
		a, _, err := lookupAgent(tx, project, agent)
		if err != nil {
			return err
		}
		links, err = tx.ListLinksForAgent(a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
