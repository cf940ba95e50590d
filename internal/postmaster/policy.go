package postmaster

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// canDeliver decides whether sender may deliver mail to recipient. Rules in
// order: a deregistered recipient is unreachable; block_all refuses all
// cross-project mail; mail inside one project always flows; across projects
// the directed link sender->recipient and the recipient's policy decide.
// Pure decision — nothing is written.
func canDeliver(tx storage.Tx, sender, recipient *core.Agent, now time.Time) (core.Decision, error) {
	if !recipient.Active() {
		return core.Denied(core.DenyRecipientInactive), nil
	}
	sameProject := sender.ProjectID == recipient.ProjectID
	if recipient.ContactPolicy == core.ContactBlockAll && !sameProject {
		return core.Denied(core.DenyBlocksAll), nil
	}
	if sameProject {
		return core.Allowed(), nil
	}

	link, err := tx.LinkByEndpoints(sender.ProjectID, sender.ID, recipient.ProjectID, recipient.ID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return core.Decision{}, err
	}
	// A blocked link in this direction wins over any policy.
	if link != nil && link.Status == core.LinkBlocked {
		return core.Denied(core.DenyLinkBlocked), nil
	}

	switch recipient.ContactPolicy {
	case core.ContactOpen, core.ContactAuto:
		return core.Allowed(), nil
	case core.ContactContactsOnly:
		if link != nil && link.UsableAt(now) {
			return core.Allowed(), nil
		}
	}
	return core.Denied(core.DenyNoContactPath), nil
}

// CanDeliver resolves both endpoints and evaluates the contact rules without
// writing anything. Endpoints are "project:name" addresses; either endpoint
// failing to resolve is ErrUnknownAgent.
func (s *Service) CanDeliver(ctx context.Context, sender, recipient string) (core.Decision, error) {
	from, err := core.ParseAddress(sender)
	if err != nil {
		return core.Decision{}, err
	}
	to, err := core.ParseAddress(recipient)
	if err != nil {
		return core.Decision{}, err
	}
	if from.Project == "" {
		return core.Decision{}, core.Invalidf("sender address needs a project")
	}
	to = to.WithDefaultProject(from.Project)

	var decision core.Decision
	err = s.store.View(ctx, func(tx storage.Tx) error {
		fromAgent, _, err := lookupAgent(tx, from.Project, from.Name)
		if err != nil {
			return err
		}
		toAgent, _, err := lookupAgent(tx, to.Project, to.Name)
		if err != nil {
			return err
		}
		decision, err = canDeliver(tx, fromAgent, toAgent, s.now())
		return err
	})
	if err != nil {
		return core.Decision{}, err
	}
	return decision, nil
}
