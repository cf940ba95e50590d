package postmaster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/names"
	"github.com/mistakeknot/interlock/internal/storage"
)

// RegisterAgentRequest registers (or re-registers) an agent in a project.
// An empty Name gets a generated call sign. Re-registering an existing name
// updates the descriptive fields and revives a deregistered agent.
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

// EnsureProject returns the project with the given slug, creating it on
// first use.
func (s *Service) EnsureProject(ctx context.Context, slug, humanKey string) (*core.Project, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, core.Invalidf("project slug must not be empty")
	}
	var out *core.Project
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		p, err := ensureProject(tx, slug, humanKey, s.now())
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ensureProject(tx storage.Tx, slug, humanKey string, now time.Time) (*core.Project, error) {
	p, err := tx.ProjectBySlug(slug)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	p = &core.Project{Slug: slug, HumanKey: humanKey, CreatedAt: now}
	if err := tx.CreateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterAgent creates an agent, or refreshes one that already exists under
// the request's name. The project is created on first use. The response
// always carries the canonical name, server-assigned when none was given.
func (s *Service) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (*core.Agent, error) {
	req.Project = strings.TrimSpace(req.Project)
	req.Name = strings.TrimSpace(req.Name)
	if req.Project == "" {
		return nil, core.Invalidf("project slug must not be empty")
	}
	if req.ContactPolicy == "" {
		req.ContactPolicy = string(core.ContactAuto)
	}
	if !core.ValidContactPolicy(req.ContactPolicy) {
		return nil, core.Invalidf("unknown contact policy %q", req.ContactPolicy)
	}
	if req.AttachmentsPolicy == "" {
		req.AttachmentsPolicy = "auto"
	}

	var (
		agent  *core.Agent
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		now := s.now()
		project, err := ensureProject(tx, req.Project, req.HumanKey, now)
		if err != nil {
			return err
		}

		if req.Name != "" {
			existing, err := tx.AgentByName(project.ID, req.Name)
			switch {
			case err == nil:
				// Same name again: refresh the descriptive fields and
				// revive if deregistered.
				existing.Program = req.Program
				existing.Model = req.Model
				existing.TaskDescription = req.TaskDescription
				existing.AttachmentsPolicy = req.AttachmentsPolicy
				existing.ContactPolicy = core.ContactPolicy(req.ContactPolicy)
				existing.LastActiveTS = now
				existing.DeregisteredTS = nil
				if err := tx.SaveAgent(existing); err != nil {
					return err
				}
				agent = existing
				events = append(events, core.NewEvent(core.EventAgentRegistered, project.Slug, agent.Name, nil))
				return nil
			case !errors.Is(err, core.ErrNotFound):
				return err
			}
		}

		name := req.Name
		if name == "" {
			name, err = freeCallSign(tx, project.ID)
			if err != nil {
				return err
			}
		}
		a := &core.Agent{
			ProjectID:         project.ID,
			Name:              name,
			Program:           req.Program,
			Model:             req.Model,
			TaskDescription:   req.TaskDescription,
			InceptionTS:       now,
			LastActiveTS:      now,
			AttachmentsPolicy: req.AttachmentsPolicy,
			ContactPolicy:     core.ContactPolicy(req.ContactPolicy),
		}
		if err := tx.CreateAgent(a); err != nil {
			return err
		}
		agent = a
		events = append(events, core.NewEvent(core.EventAgentRegistered, project.Slug, a.Name, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return agent, nil
}

// freeCallSign picks a generated name not yet taken in the project.
func freeCallSign(tx storage.Tx, projectID int64) (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		candidate := names.Generate()
		if attempt >= 8 {
			candidate = names.GenerateN(attempt)
		}
		_, err := tx.AgentByName(projectID, candidate)
		if errors.Is(err, core.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	// Practically unreachable; uuid breaks any remaining tie.
	return "agent-" + uuid.NewString()[:8], nil
}

// DeregisterAgent soft-deletes the agent. History stays queryable; the agent
// can no longer receive mail or hold new reservations. Already-deregistered
// agents keep their original timestamp.
func (s *Service) DeregisterAgent(ctx context.Context, project, name string) (*core.Agent, error) {
	var (
		agent  *core.Agent
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		a, p, err := lookupAgent(tx, project, name)
		if err != nil {
			return err
		}
		if a.DeregisteredTS == nil {
			now := s.now()
			a.DeregisteredTS = &now
			a.LastActiveTS = now
			if err := tx.SaveAgent(a); err != nil {
				return err
			}
			events = append(events, core.NewEvent(core.EventAgentDeregistered, p.Slug, a.Name, nil))
		}
		agent = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return agent, nil
}

// Heartbeat advances the agent's last_active_ts.
func (s *Service) Heartbeat(ctx context.Context, project, name string) (*core.Agent, error) {
	var (
		agent  *core.Agent
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		a, p, err := activeAgent(tx, project, name)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.TouchAgent(a.ID, now); err != nil {
			return err
		}
		a.LastActiveTS = now
		agent = a
		events = append(events, core.NewEvent(core.EventAgentHeartbeat, p.Slug, a.Name, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return agent, nil
}

// GetAgent fetches one agent record, deregistered or not.
func (s *Service) GetAgent(ctx context.Context, project, name string) (*core.Agent, error) {
	var agent *core.Agent
	err := s.store.View(ctx, func(tx storage.Tx) error {
		a, _, err := lookupAgent(tx, project, name)
		if err != nil {
			return err
		}
		agent = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents lists a project's agents, optionally including deregistered ones.
func (s *Service) ListAgents(ctx context.Context, project string, includeDeregistered bool) ([]core.Agent, error) {
	var agents []core.Agent
	err := s.store.View(ctx, func(tx storage.Tx) error {
		p, err := tx.ProjectBySlug(project)
		if err != nil {
			return err
		}
		agents, err = tx.ListAgents(p.ID, includeDeregistered)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// CreateProduct creates a named product grouping with a fresh uid.
func (s *Service) CreateProduct(ctx context.Context, name string) (*core.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.Invalidf("product name must not be empty")
	}
	product := &core.Product{ProductUID: uuid.NewString(), Name: name}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		product.CreatedAt = s.now()
		return tx.CreateProduct(product)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// AttachProjectToProduct links a project into a product. Attaching twice is
// a no-op.
func (s *Service) AttachProjectToProduct(ctx context.Context, productRef, projectSlug string) error {
	return s.store.Update(ctx, func(tx storage.Tx) error {
		product, err := productByRef(tx, productRef)
		if err != nil {
			return err
		}
		project, err := tx.ProjectBySlug(projectSlug)
		if err != nil {
			return err
		}
		err = tx.AddProductProject(&core.ProductProjectLink{
			ProductID: product.ID,
			ProjectID: project.ID,
			CreatedAt: s.now(),
		})
		if errors.Is(err, core.ErrDuplicate) {
			return nil
		}
		return err
	})
}

// ListProductProjects returns the projects attached to a product.
func (s *Service) ListProductProjects(ctx context.Context, productRef string) ([]core.Project, error) {
	var projects []core.Project
	err := s.store.View(ctx, func(tx storage.Tx) error {
		product, err := productByRef(tx, productRef)
		if err != nil {
			return err
		}
		projects, err = tx.ProductProjects(product.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// productByRef accepts either a product uid or a product name.
func productByRef(tx storage.Tx, ref string) (*core.Product, error) {
	product, err := tx.ProductByUID(ref)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return tx.ProductByName(ref)
}
