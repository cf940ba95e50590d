package postmaster

import (
	"context"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/glob"
	"github.com/mistakeknot/interlock/internal/storage"
)

// ReserveRequest claims one or more path patterns in a project. All patterns
// are granted atomically or none are.
type ReserveRequest struct {
	Project   string        `json:"project"`
	Agent     string        `json:"agent"`
	Patterns  []string      `json:"patterns"`
	Exclusive bool          `json:"exclusive"`
	TTL       time.Duration `json:"ttl"`
	Reason    string        `json:"reason,omitempty"`
}

func (r *ReserveRequest) validate() error {
	if strings.TrimSpace(r.Project) == "" || strings.TrimSpace(r.Agent) == "" {
		return core.Invalidf("project and agent are required")
	}
	if len(r.Patterns) == 0 {
		return core.Invalidf("at least one path pattern is required")
	}
	for _, p := range r.Patterns {
		if strings.TrimSpace(p) == "" {
			return core.Invalidf("path pattern must not be empty")
		}
		if err := glob.ValidateComplexity(p); err != nil {
			return err
		}
	}
	if r.TTL <= 0 {
		return core.Invalidf("ttl must be positive")
	}
	return nil
}

// conflictsWith reports whether a requested claim collides with an active
// reservation. Claims of the same agent never conflict; two non-exclusive
// claims may share paths.
func conflictsWith(active core.FileReservation, agentID int64, pattern string, exclusive bool) (bool, error) {
	if active.AgentID == agentID {
		return false, nil
	}
	if !active.Exclusive && !exclusive {
		return false, nil
	}
	return glob.PatternsOverlap(active.PathPattern, pattern)
}

// Reserve grants the requested claims unless any pattern overlaps an active
// reservation held by another agent (where at least one side is exclusive).
// The conflict error carries every colliding reservation so the caller can
// negotiate or wait. Overlap with the caller's own claims never conflicts
// and never auto-releases them.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) ([]core.FileReservation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		granted []core.FileReservation
		events  []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		granted = granted[:0]
		events = events[:0]
		agent, project, err := activeAgent(tx, req.Project, req.Agent)
		if err != nil {
			return err
		}
		now := s.now()

		active, err := tx.ActiveReservations(project.ID, now)
		if err != nil {
			return err
		}
		var conflicts []core.FileReservation
		seen := map[int64]bool{}
		for _, pattern := range req.Patterns {
			for _, r := range active {
				hit, err := conflictsWith(r, agent.ID, pattern, req.Exclusive)
				if err != nil {
					return err
				}
				if hit && !seen[r.ID] {
					seen[r.ID] = true
					conflicts = append(conflicts, r)
				}
			}
		}
		if len(conflicts) > 0 {
			return &core.ConflictError{Conflicts: conflicts}
		}

		for _, pattern := range req.Patterns {
			r := &core.FileReservation{
				ProjectID:   project.ID,
				AgentID:     agent.ID,
				PathPattern: pattern,
				Exclusive:   req.Exclusive,
				Reason:      req.Reason,
				CreatedTS:   now,
				ExpiresTS:   now.Add(req.TTL),
			}
			if err := tx.CreateReservation(r); err != nil {
				return err
			}
			granted = append(granted, *r)
			events = append(events, core.NewEvent(core.EventReservationCreated, project.Slug, agent.Name, map[string]any{
				"reservation_id": r.ID,
				"path_pattern":   r.PathPattern,
				"exclusive":      r.Exclusive,
				"expires_ts":     r.ExpiresTS,
			}))
		}
		return tx.TouchAgent(agent.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return granted, nil
}

// Release stamps released_ts on the caller's reservation. Releasing a
// reservation again reports AlreadyReleased; releasing another agent's
// reservation reports NotOwner. Both leave the record untouched.
func (s *Service) Release(ctx context.Context, project, agent string, reservationID int64) (*core.FileReservation, error) {
	var (
		released *core.FileReservation
		events   []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		actor, proj, err := activeAgent(tx, project, agent)
		if err != nil {
			return err
		}
		r, err := tx.ReservationByID(reservationID)
		if err != nil {
			return err
		}
		if r.ProjectID != proj.ID {
			return core.ErrNotFound
		}
		if r.AgentID != actor.ID {
			return core.ErrNotOwner
		}
		now := s.now()
		if err := tx.ReleaseReservation(r.ID, now); err != nil {
			return err
		}
		r.ReleasedTS = &now
		released = r
		events = append(events, core.NewEvent(core.EventReservationReleased, proj.Slug, actor.Name, map[string]any{
			"reservation_id": r.ID,
			"path_pattern":   r.PathPattern,
		}))
		return tx.TouchAgent(actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return released, nil
}

// ListActive returns the project's active reservations. A non-empty pattern
// narrows the list to claims overlapping it.
func (s *Service) ListActive(ctx context.Context, project, pattern string) ([]core.FileReservation, error) {
	if pattern != "" {
		if err := glob.ValidateComplexity(pattern); err != nil {
			return nil, err
		}
	}
	var out []core.FileReservation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		p, err := tx.ProjectBySlug(project)
		if err != nil {
			return err
		}
		active, err := tx.ActiveReservations(p.ID, s.now())
		if err != nil {
			return err
		}
		if pattern == "" {
			out = active
			return nil
		}
		out = out[:0]
		for _, r := range active {
			overlap, err := glob.PatternsOverlap(r.PathPattern, pattern)
			if err != nil {
				return err
			}
			if overlap {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckConflicts is the dry-run form of Reserve's conflict predicate: it
// returns the active reservations a claim on pattern would collide with,
// without writing anything. Agent may be empty when the caller has no
// identity to exempt.
func (s *Service) CheckConflicts(ctx context.Context, project, agent, pattern string, exclusive bool) ([]core.FileReservation, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, core.Invalidf("path pattern must not be empty")
	}
	if err := glob.ValidateComplexity(pattern); err != nil {
		return nil, err
	}
	var conflicts []core.FileReservation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		conflicts = conflicts[:0]
		p, err := tx.ProjectBySlug(project)
		if err != nil {
			return err
		}
		var agentID int64
		if agent != "" {
			a, _, err := lookupAgent(tx, project, agent)
			if err != nil {
				return err
			}
			agentID = a.ID
		}
		active, err := tx.ActiveReservations(p.ID, s.now())
		if err != nil {
			return err
		}
		for _, r := range active {
			hit, err := conflictsWith(r, agentID, pattern, exclusive)
			if err != nil {
				return err
			}
			if hit {
				conflicts = append(conflicts, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}
