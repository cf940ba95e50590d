package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// EnsureProject creates the project on first use and returns it either way.
func (c *Client) EnsureProject(ctx context.Context, slug, humanKey string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "/api/projects", map[string]string{
		"slug":      slug,
		"human_key": humanKey,
	}, &out)
	return out, err
}

// RegisterAgent registers or refreshes an agent. Project falls back to the
// client default.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (Agent, error) {
	req.Project = c.defaultProject(req.Project)
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents", req, &out)
	return out, err
}

func (c *Client) GetAgent(ctx context.Context, project, name string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodGet, c.agentPath(project, name), nil, &out)
	return out, err
}

// Heartbeat bumps the agent's last-active timestamp.
func (c *Client) Heartbeat(ctx context.Context, project, name string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, c.agentPath(project, name)+"/heartbeat", nil, &out)
	return out, err
}

// DeregisterAgent soft-deletes the agent. Idempotent.
func (c *Client) DeregisterAgent(ctx context.Context, project, name string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodDelete, c.agentPath(project, name), nil, &out)
	return out, err
}

// ListAgents lists a project's agents, including deregistered ones when all
// is set.
func (c *Client) ListAgents(ctx context.Context, project string, all bool) ([]Agent, error) {
	path := "/api/projects/" + url.PathEscape(c.defaultProject(project)) + "/agents"
	if all {
		path += "?all=1"
	}
	var out struct {
		Agents []Agent `json:"agents"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Agents, err
}

func (c *Client) agentPath(project, name string) string {
	return "/api/agents/" + url.PathEscape(c.defaultProject(project)) + "/" + url.PathEscape(c.defaultAgent(name))
}

// SendMessage delivers a message to every named recipient, or fails as a
// whole. A denial surfaces as an APIError with code "delivery_denied" and
// per-recipient reasons in Denials.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SentMessage, error) {
	req.Project = c.defaultProject(req.Project)
	req.Sender = c.defaultAgent(req.Sender)
	var out SentMessage
	err := c.do(ctx, http.MethodPost, "/api/messages", req, &out)
	return out, err
}

// GetMessage fetches a message with recipient states. Only the sender and
// recipients may fetch it.
func (c *Client) GetMessage(ctx context.Context, project, agent string, id int64) (MessageView, error) {
	q := url.Values{}
	q.Set("project", c.defaultProject(project))
	q.Set("agent", c.defaultAgent(agent))
	var out MessageView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/messages/%d?%s", id, q.Encode()), nil, &out)
	return out, err
}

// MarkRead records the recipient's read timestamp. Already-read is a no-op
// that returns the existing record.
func (c *Client) MarkRead(ctx context.Context, project, agent string, id int64) (MessageRecipient, error) {
	return c.deliveryAction(ctx, project, agent, id, "read")
}

// MarkAck records the recipient's acknowledgement.
func (c *Client) MarkAck(ctx context.Context, project, agent string, id int64) (MessageRecipient, error) {
	return c.deliveryAction(ctx, project, agent, id, "ack")
}

func (c *Client) deliveryAction(ctx context.Context, project, agent string, id int64, action string) (MessageRecipient, error) {
	var out MessageRecipient
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/%s", id, action), map[string]string{
		"project": c.defaultProject(project),
		"agent":   c.defaultAgent(agent),
	}, &out)
	return out, err
}

// Inbox returns the agent's messages, newest first.
func (c *Client) Inbox(ctx context.Context, project, agent string, unreadOnly bool, limit int) ([]InboxItem, error) {
	path := "/api/inbox/" + url.PathEscape(c.defaultProject(project)) + "/" + url.PathEscape(c.defaultAgent(agent))
	if q := inboxQuery(unreadOnly, limit); q != "" {
		path += "?" + q
	}
	var out struct {
		Messages []InboxItem `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

// Thread returns a thread's messages in creation order.
func (c *Client) Thread(ctx context.Context, project, threadKey string) ([]Message, error) {
	path := "/api/threads/" + url.PathEscape(c.defaultProject(project)) + "/" + url.PathEscape(threadKey)
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

// Reserve claims path patterns atomically. On overlap the returned error is
// an APIError with code "conflict" carrying the conflicting reservations.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) ([]Reservation, error) {
	req.Project = c.defaultProject(req.Project)
	req.Agent = c.defaultAgent(req.Agent)
	var out struct {
		Reservations []Reservation `json:"reservations"`
	}
	err := c.do(ctx, http.MethodPost, "/api/reservations", req, &out)
	return out.Reservations, err
}

// Release ends a reservation held by the agent.
func (c *Client) Release(ctx context.Context, project, agent string, id int64) (Reservation, error) {
	var out Reservation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/reservations/%d/release", id), map[string]string{
		"project": c.defaultProject(project),
		"agent":   c.defaultAgent(agent),
	}, &out)
	return out, err
}

// ListReservations lists a project's active reservations, optionally only
// those overlapping pattern.
func (c *Client) ListReservations(ctx context.Context, project, pattern string) ([]Reservation, error) {
	q := url.Values{}
	q.Set("project", c.defaultProject(project))
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	var out struct {
		Reservations []Reservation `json:"reservations"`
	}
	err := c.do(ctx, http.MethodGet, "/api/reservations?"+q.Encode(), nil, &out)
	return out.Reservations, err
}

// CheckConflicts previews the conflicts a claim would hit, without claiming.
func (c *Client) CheckConflicts(ctx context.Context, project, agent, pattern string, exclusive bool) ([]Reservation, error) {
	var out struct {
		Conflicts []Reservation `json:"conflicts"`
	}
	err := c.do(ctx, http.MethodPost, "/api/reservations/check", map[string]any{
		"project":   c.defaultProject(project),
		"agent":     c.defaultAgent(agent),
		"pattern":   pattern,
		"exclusive": exclusive,
	}, &out)
	return out.Conflicts, err
}

// RequestLink asks for a contact link to another agent.
func (c *Client) RequestLink(ctx context.Context, req LinkRequest) (Link, error) {
	req.FromProject = c.defaultProject(req.FromProject)
	req.FromAgent = c.defaultAgent(req.FromAgent)
	var out Link
	err := c.do(ctx, http.MethodPost, "/api/links", req, &out)
	return out, err
}

// ApproveLink approves a pending link. Only the non-requesting endpoint may
// approve.
func (c *Client) ApproveLink(ctx context.Context, project, agent string, id int64) (Link, error) {
	return c.linkAction(ctx, project, agent, id, "approve")
}

// BlockLink blocks a link. Either endpoint may block; blocked is terminal.
func (c *Client) BlockLink(ctx context.Context, project, agent string, id int64) (Link, error) {
	return c.linkAction(ctx, project, agent, id, "block")
}

func (c *Client) linkAction(ctx context.Context, project, agent string, id int64, action string) (Link, error) {
	var out Link
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/links/%d/%s", id, action), map[string]string{
		"project": c.defaultProject(project),
		"agent":   c.defaultAgent(agent),
	}, &out)
	return out, err
}

// ListLinks returns the links touching an agent, in both directions.
func (c *Client) ListLinks(ctx context.Context, project, agent string) ([]Link, error) {
	path := "/api/links/" + url.PathEscape(c.defaultProject(project)) + "/" + url.PathEscape(c.defaultAgent(agent))
	var out struct {
		Links []Link `json:"links"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Links, err
}

// CanDeliver checks whether from could deliver to to right now. Both are
// project:name addresses; to may be a bare name in from's project.
func (c *Client) CanDeliver(ctx context.Context, from, to string) (Decision, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	var out Decision
	err := c.do(ctx, http.MethodGet, "/api/contacts/check?"+q.Encode(), nil, &out)
	return out, err
}

// CreateProduct creates a product grouping. Requires local access.
func (c *Client) CreateProduct(ctx context.Context, name string) (Product, error) {
	var out Product
	err := c.do(ctx, http.MethodPost, "/api/products", map[string]string{"name": name}, &out)
	return out, err
}

// AttachProjectToProduct attaches a project to a product by uid or name.
func (c *Client) AttachProjectToProduct(ctx context.Context, product, project string) error {
	path := "/api/products/" + url.PathEscape(product) + "/projects"
	return c.do(ctx, http.MethodPost, path, map[string]string{"project": project}, nil)
}

// ListProductProjects lists the projects attached to a product.
func (c *Client) ListProductProjects(ctx context.Context, product string) ([]Project, error) {
	path := "/api/products/" + url.PathEscape(product) + "/projects"
	var out struct {
		Projects []Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Projects, err
}

// ProductInbox merges the inboxes of same-named agents across a product's
// projects, newest first.
func (c *Client) ProductInbox(ctx context.Context, product, agent string, unreadOnly bool, limit int) ([]InboxItem, error) {
	path := "/api/products/" + url.PathEscape(product) + "/inbox/" + url.PathEscape(c.defaultAgent(agent))
	if q := inboxQuery(unreadOnly, limit); q != "" {
		path += "?" + q
	}
	var out struct {
		Messages []InboxItem `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

// SuggestSibling records that two projects look related. Re-suggesting the
// same pair updates the score while the suggestion is undecided.
func (c *Client) SuggestSibling(ctx context.Context, projectA, projectB string, score float64, rationale string) (SiblingSuggestion, error) {
	var out SiblingSuggestion
	err := c.do(ctx, http.MethodPost, "/api/siblings", map[string]any{
		"project_a": projectA,
		"project_b": projectB,
		"score":     score,
		"rationale": rationale,
	}, &out)
	return out, err
}

func (c *Client) ConfirmSibling(ctx context.Context, id int64) (SiblingSuggestion, error) {
	var out SiblingSuggestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/siblings/%d/confirm", id), nil, &out)
	return out, err
}

func (c *Client) DismissSibling(ctx context.Context, id int64) (SiblingSuggestion, error) {
	var out SiblingSuggestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/siblings/%d/dismiss", id), nil, &out)
	return out, err
}

// ListSiblings lists suggestions, highest score first, optionally filtered
// to one project.
func (c *Client) ListSiblings(ctx context.Context, project string) ([]SiblingSuggestion, error) {
	path := "/api/siblings"
	if project != "" {
		path += "?project=" + url.QueryEscape(project)
	}
	var out struct {
		Siblings []SiblingSuggestion `json:"siblings"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Siblings, err
}

func inboxQuery(unreadOnly bool, limit int) string {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "1")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}
