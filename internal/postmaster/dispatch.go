package postmaster

import (
	"context"
	"errors"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// SendRequest carries one outgoing message. Recipient addresses are
// "project:name" or a bare name, which defaults to the sender's project.
type SendRequest struct {
	Project     string            `json:"project"`
	Sender      string            `json:"sender"`
	To          []string          `json:"to"`
	CC          []string          `json:"cc,omitempty"`
	Subject     string            `json:"subject"`
	BodyMD      string            `json:"body_md"`
	Importance  string            `json:"importance,omitempty"`
	AckRequired bool              `json:"ack_required,omitempty"`
	ThreadID    string            `json:"thread_id,omitempty"`
	Attachments []core.Attachment `json:"attachments,omitempty"`
}

func (r *SendRequest) validate() error {
	if strings.TrimSpace(r.Project) == "" || strings.TrimSpace(r.Sender) == "" {
		return core.Invalidf("project and sender are required")
	}
	if len(r.To) == 0 {
		return core.Invalidf("at least one to recipient is required")
	}
	if strings.TrimSpace(r.Subject) == "" {
		return core.Invalidf("subject must not be empty")
	}
	if r.Importance == "" {
		r.Importance = string(core.ImportanceNormal)
	}
	if !core.ValidImportance(r.Importance) {
		return core.Invalidf("unknown importance %q", r.Importance)
	}
	for _, att := range r.Attachments {
		if err := att.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SentMessage is the result of a successful send: the stored message plus
// the canonical "project:name" form of every delivery.
type SentMessage struct {
	Message core.Message `json:"message"`
	To      []string     `json:"to"`
	CC      []string     `json:"cc,omitempty"`
}

type resolvedRecipient struct {
	agent   *core.Agent
	project *core.Project
	kind    core.RecipientKind
	addr    string
}

// Send resolves every recipient through the contact policy and delivers to
// all of them or none. Any denial fails the whole send with the full denial
// list; an unresolvable address fails it with ErrUnknownAgent. On success
// one message row and one recipient row per distinct recipient exist, and a
// message.created event goes out to each recipient after commit.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SentMessage, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		result SentMessage
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		result = SentMessage{}
		events = events[:0]
		sender, senderProject, err := activeAgent(tx, req.Project, req.Sender)
		if err != nil {
			return err
		}
		now := s.now()

		// Resolve the fan-out list. A recipient named in both to and cc
		// gets exactly one row; to wins.
		var (
			recipients []resolvedRecipient
			denials    []core.RecipientDenial
			seen       = map[int64]bool{}
		)
		addAll := func(addrs []string, kind core.RecipientKind) error {
			for _, raw := range addrs {
				addr, err := core.ParseAddress(raw)
				if err != nil {
					return err
				}
				addr = addr.WithDefaultProject(senderProject.Slug)
				agent, project, err := lookupAgent(tx, addr.Project, addr.Name)
				if err != nil {
					return err
				}
				if seen[agent.ID] {
					continue
				}
				seen[agent.ID] = true
				decision, err := canDeliver(tx, sender, agent, now)
				if err != nil {
					return err
				}
				if !decision.Allow {
					denials = append(denials, core.RecipientDenial{
						Recipient: addr.String(),
						Reason:    decision.Reason,
					})
					continue
				}
				recipients = append(recipients, resolvedRecipient{
					agent: agent, project: project, kind: kind, addr: addr.String(),
				})
			}
			return nil
		}
		if err := addAll(req.To, core.KindTo); err != nil {
			return err
		}
		if err := addAll(req.CC, core.KindCC); err != nil {
			return err
		}
		if len(denials) > 0 {
			return &core.DeliveryDeniedError{Denials: denials}
		}

		msg := &core.Message{
			ProjectID:   senderProject.ID,
			SenderID:    sender.ID,
			ThreadID:    strings.TrimSpace(req.ThreadID),
			Subject:     req.Subject,
			BodyMD:      req.BodyMD,
			Importance:  core.Importance(req.Importance),
			AckRequired: req.AckRequired,
			CreatedTS:   now,
			Attachments: req.Attachments,
		}
		if err := tx.CreateMessage(msg); err != nil {
			return err
		}
		for _, rcpt := range recipients {
			if err := tx.AddRecipient(&core.MessageRecipient{
				MessageID: msg.ID,
				AgentID:   rcpt.agent.ID,
				Kind:      rcpt.kind,
			}); err != nil {
				return err
			}
			switch rcpt.kind {
			case core.KindTo:
				result.To = append(result.To, rcpt.addr)
			case core.KindCC:
				result.CC = append(result.CC, rcpt.addr)
			}
			events = append(events, core.NewEvent(core.EventMessageCreated, rcpt.project.Slug, rcpt.agent.Name, map[string]any{
				"message_id": msg.ID,
				"thread_id":  msg.ThreadKey(),
				"from":       senderProject.Slug + ":" + sender.Name,
				"subject":    msg.Subject,
				"importance": string(msg.Importance),
			}))
		}
		result.Message = *msg
		return tx.TouchAgent(sender.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return &result, nil
}

// MarkRead stamps the caller's read_ts exactly once. Repeat calls return the
// original timestamp; a caller who is not a recipient gets ErrNotRecipient.
func (s *Service) MarkRead(ctx context.Context, project, agent string, messageID int64) (*core.MessageRecipient, error) {
	return s.markDelivery(ctx, project, agent, messageID, core.EventMessageRead)
}

// MarkAck stamps the caller's ack_ts exactly once. Acking a message that
// never asked for one is recorded all the same.
func (s *Service) MarkAck(ctx context.Context, project, agent string, messageID int64) (*core.MessageRecipient, error) {
	return s.markDelivery(ctx, project, agent, messageID, core.EventMessageAck)
}

func (s *Service) markDelivery(ctx context.Context, project, agent string, messageID int64, eventType core.EventType) (*core.MessageRecipient, error) {
	var (
		out    *core.MessageRecipient
		events []core.Event
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		events = events[:0]
		actor, proj, err := activeAgent(tx, project, agent)
		if err != nil {
			return err
		}
		if _, err := tx.MessageByID(messageID); err != nil {
			return err
		}
		rcpt, err := tx.Recipient(messageID, actor.ID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.ErrNotRecipient
			}
			return err
		}
		now := s.now()
		slot := &rcpt.ReadTS
		if eventType == core.EventMessageAck {
			slot = &rcpt.AckTS
		}
		if *slot == nil {
			if eventType == core.EventMessageAck {
				err = tx.SetRecipientAck(messageID, actor.ID, now)
			} else {
				err = tx.SetRecipientRead(messageID, actor.ID, now)
			}
			if err != nil {
				return err
			}
			*slot = &now
			events = append(events, core.NewEvent(eventType, proj.Slug, actor.Name, map[string]any{
				"message_id": messageID,
			}))
		}
		out = rcpt
		return tx.TouchAgent(actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(events)
	return out, nil
}

// MessageView is a message joined with its delivery records.
type MessageView struct {
	Message    core.Message            `json:"message"`
	Recipients []core.MessageRecipient `json:"recipients"`
}

// GetMessage returns a message with its recipient states. Only the sender
// and recipients may fetch it.
func (s *Service) GetMessage(ctx context.Context, project, agent string, messageID int64) (*MessageView, error) {
	var view MessageView
	err := s.store.View(ctx, func(tx storage.Tx) error {
		actor, proj, err := lookupAgent(tx, project, agent)
		if err != nil {
			return err
		}
		msg, err := tx.MessageByID(messageID)
		if err != nil {
			return err
		}
		if msg.ProjectID != proj.ID {
			return core.ErrNotFound
		}
		recipients, err := tx.Recipients(messageID)
		if err != nil {
			return err
		}
		allowed := msg.SenderID == actor.ID
		for _, r := range recipients {
			if r.AgentID == actor.ID {
				allowed = true
				break
			}
		}
		if !allowed {
			return core.ErrNotRecipient
		}
		view = MessageView{Message: *msg, Recipients: recipients}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Inbox returns the agent's received messages, newest first. Deregistered
// agents keep read access to their history.
func (s *Service) Inbox(ctx context.Context, project, agent string, unreadOnly bool, limit int) ([]storage.InboxItem, error) {
	var items []storage.InboxItem
	err := s.store.View(ctx, func(tx storage.Tx) error {
		a, _, err := lookupAgent(tx, project, agent)
		if err != nil {
			return err
		}
		items, err = tx.Inbox(storage.InboxQuery{
			AgentIDs:   []int64{a.ID},
			UnreadOnly: unreadOnly,
			Limit:      limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ThreadMessages returns a thread in causal order. The thread key is either
// an explicit thread id or the root message's own id.
func (s *Service) ThreadMessages(ctx context.Context, project, threadKey string) ([]core.Message, error) {
	if strings.TrimSpace(threadKey) == "" {
		return nil, core.Invalidf("thread id must not be empty")
	}
	var msgs []core.Message
	err := s.store.View(ctx, func(tx storage.Tx) error {
		p, err := tx.ProjectBySlug(project)
		if err != nil {
			return err
		}
		msgs, err = tx.ThreadMessages(p.ID, threadKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ProductInbox merges the inboxes of the same-named agent across every
// project attached to the product.
func (s *Service) ProductInbox(ctx context.Context, productRef, agent string, unreadOnly bool, limit int) ([]storage.InboxItem, error) {
	var items []storage.InboxItem
	err := s.store.View(ctx, func(tx storage.Tx) error {
		product, err := productByRef(tx, productRef)
		if err != nil {
			return err
		}
		projects, err := tx.ProductProjects(product.ID)
		if err != nil {
			return err
		}
		var ids []int64
		for _, p := range projects {
			a, err := tx.AgentByName(p.ID, agent)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			ids = append(ids, a.ID)
		}
		if len(ids) == 0 {
			return core.ErrUnknownAgent
		}
		items, err = tx.Inbox(storage.InboxQuery{
			AgentIDs:   ids,
			UnreadOnly: unreadOnly,
			Limit:      limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
