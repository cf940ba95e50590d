// Package mcpserver exposes the coordination service as MCP (Model Context
// Protocol) tools over stdio, so agent harnesses can register, message, and
// reserve paths without speaking the REST API.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/postmaster"
)

// Server wraps the MCP server with the coordination tools.
type Server struct {
	mcp *server.MCPServer
	svc *postmaster.Service
}

// New creates an MCP server with every coordination tool registered.
func New(svc *postmaster.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Interlock",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("register_agent",
		mcp.WithDescription("Register this agent in a project, or refresh an existing registration. "+
			"Returns the agent record including the server-assigned name when none was given."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug to register in")),
		mcp.WithString("name", mcp.Description("Agent name; omit for a generated call sign")),
		mcp.WithString("program", mcp.Description("Program driving the agent")),
		mcp.WithString("model", mcp.Description("Model identifier")),
		mcp.WithString("task_description", mcp.Description("What the agent is working on")),
		mcp.WithString("contact_policy", mcp.Description("auto, open, contacts_only, or block_all")),
	), s.registerAgent)

	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to one or more agents. Recipients are comma-separated "+
			"names or project:name addresses. Delivery is all-or-nothing: any denied recipient "+
			"fails the whole send with the denial reasons."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Sender's project slug")),
		mcp.WithString("sender", mcp.Required(), mcp.Description("Sender agent name")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Comma-separated primary recipients")),
		mcp.WithString("cc", mcp.Description("Comma-separated cc recipients")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Message subject")),
		mcp.WithString("body_md", mcp.Description("Markdown body")),
		mcp.WithString("importance", mcp.Description("low, normal, or high")),
		mcp.WithString("ack_required", mcp.Description("true to request an acknowledgement")),
		mcp.WithString("thread_id", mcp.Description("Thread key to reply into")),
	), s.sendMessage)

	s.mcp.AddTool(mcp.NewTool("fetch_inbox",
		mcp.WithDescription("Fetch an agent's inbox, newest first."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent name")),
		mcp.WithString("unread", mcp.Description("true to list only unread messages")),
		mcp.WithString("limit", mcp.Description("Maximum number of messages")),
	), s.fetchInbox)

	s.mcp.AddTool(mcp.NewTool("mark_read",
		mcp.WithDescription("Mark a message read for this recipient."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Recipient agent name")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id")),
	), s.markRead)

	s.mcp.AddTool(mcp.NewTool("mark_ack",
		mcp.WithDescription("Acknowledge a message for this recipient."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Recipient agent name")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id")),
	), s.markAck)

	s.mcp.AddTool(mcp.NewTool("reserve_paths",
		mcp.WithDescription("Claim one or more path patterns in a project. Patterns are "+
			"comma-separated globs (* within a segment, ** across segments). All claims are "+
			"granted atomically; any overlap with another agent's active claim fails the whole "+
			"request and returns the conflicting reservations."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Claiming agent name")),
		mcp.WithString("patterns", mcp.Required(), mcp.Description("Comma-separated path patterns")),
		mcp.WithString("exclusive", mcp.Description("false for a shared claim; defaults to true")),
		mcp.WithString("ttl_seconds", mcp.Description("Claim lifetime in seconds; defaults to 3600")),
		mcp.WithString("reason", mcp.Description("Why the paths are needed")),
	), s.reservePaths)

	s.mcp.AddTool(mcp.NewTool("release_reservation",
		mcp.WithDescription("Release a reservation held by this agent."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Holding agent name")),
		mcp.WithString("reservation_id", mcp.Required(), mcp.Description("Reservation id")),
	), s.releaseReservation)

	s.mcp.AddTool(mcp.NewTool("list_reservations",
		mcp.WithDescription("List active reservations in a project, optionally only those "+
			"overlapping a pattern."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("pattern", mcp.Description("Pattern to intersect against")),
	), s.listReservations)

	s.mcp.AddTool(mcp.NewTool("request_contact",
		mcp.WithDescription("Request a contact link to an agent in another project. The target "+
			"must approve before contacts_only delivery opens."),
		mcp.WithString("from_project", mcp.Required(), mcp.Description("Requester's project slug")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Requester agent name")),
		mcp.WithString("to_project", mcp.Required(), mcp.Description("Target project slug")),
		mcp.WithString("to_agent", mcp.Required(), mcp.Description("Target agent name")),
		mcp.WithString("reason", mcp.Description("Why contact is wanted")),
		mcp.WithString("ttl_seconds", mcp.Description("Link lifetime after approval; 0 for no expiry")),
	), s.requestContact)

	s.mcp.AddTool(mcp.NewTool("respond_contact",
		mcp.WithDescription("Approve or block a contact link. Only the non-requesting endpoint "+
			"may approve; either endpoint may block. Blocked links are terminal."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Responder's project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Responder agent name")),
		mcp.WithString("link_id", mcp.Required(), mcp.Description("Link id")),
		mcp.WithString("action", mcp.Required(), mcp.Description("approve or block")),
	), s.respondContact)

	s.mcp.AddTool(mcp.NewTool("list_contacts",
		mcp.WithDescription("List contact links touching an agent, in both directions."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project slug")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent name")),
	), s.listContacts)

	s.mcp.AddTool(mcp.NewTool("check_contact",
		mcp.WithDescription("Check whether a sender could deliver to a recipient right now, "+
			"without sending anything."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Sender as project:name")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient as project:name")),
	), s.checkContact)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func optString(req mcp.CallToolRequest, name string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return ""
}

func optBool(req mcp.CallToolRequest, name string) bool {
	v := strings.ToLower(optString(req, name))
	return v == "true" || v == "1" || v == "yes"
}

func optInt(req mcp.CallToolRequest, name string, fallback int64) (int64, error) {
	raw := optString(req, name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func requireID(req mcp.CallToolRequest, name string) (int64, error) {
	raw, err := req.RequireString(name)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError renders a service error as tool output. Reservation conflicts
// get one line per conflicting claim so the caller can see who holds what.
func toolError(err error) *mcp.CallToolResult {
	var conflict *core.ConflictError
	if errors.As(err, &conflict) {
		var b strings.Builder
		b.WriteString(err.Error())
		for _, c := range conflict.Conflicts {
			fmt.Fprintf(&b, "\n  %s held by agent %d until %s",
				c.PathPattern, c.AgentID, c.ExpiresTS.UTC().Format(time.RFC3339))
		}
		return mcp.NewToolResultError(b.String())
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) registerAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := s.svc.RegisterAgent(ctx, postmaster.RegisterAgentRequest{
		Project:         project,
		Name:            optString(req, "name"),
		Program:         optString(req, "program"),
		Model:           optString(req, "model"),
		TaskDescription: optString(req, "task_description"),
		ContactPolicy:   optString(req, "contact_policy"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(agent)
}

func (s *Server) sendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sender, err := req.RequireString("sender")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	subject, err := req.RequireString("subject")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sent, err := s.svc.Send(ctx, postmaster.SendRequest{
		Project:     project,
		Sender:      sender,
		To:          splitList(to),
		CC:          splitList(optString(req, "cc")),
		Subject:     subject,
		BodyMD:      optString(req, "body_md"),
		Importance:  optString(req, "importance"),
		AckRequired: optBool(req, "ack_required"),
		ThreadID:    optString(req, "thread_id"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sent)
}

func (s *Server) fetchInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, err := optInt(req, "limit", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.Inbox(ctx, project, agent, optBool(req, "unread"), int(limit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) markRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.deliveryAction(ctx, req, s.svc.MarkRead)
}

func (s *Server) markAck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.deliveryAction(ctx, req, s.svc.MarkAck)
}

func (s *Server) deliveryAction(ctx context.Context, req mcp.CallToolRequest, act func(context.Context, string, string, int64) (*core.MessageRecipient, error)) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := requireID(req, "message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := act(ctx, project, agent, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) reservePaths(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patterns, err := req.RequireString("patterns")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ttlSeconds, err := optInt(req, "ttl_seconds", 3600)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exclusive := true
	if raw := optString(req, "exclusive"); raw != "" {
		exclusive = optBool(req, "exclusive")
	}
	granted, err := s.svc.Reserve(ctx, postmaster.ReserveRequest{
		Project:   project,
		Agent:     agent,
		Patterns:  splitList(patterns),
		Exclusive: exclusive,
		TTL:       time.Duration(ttlSeconds) * time.Second,
		Reason:    optString(req, "reason"),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(granted)
}

func (s *Server) releaseReservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := requireID(req, "reservation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	released, err := s.svc.Release(ctx, project, agent, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(released)
}

func (s *Server) listReservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	active, err := s.svc.ListActive(ctx, project, optString(req, "pattern"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(active)
}

func (s *Server) requestContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fromProject, err := req.RequireString("from_project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fromAgent, err := req.RequireString("from_agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toProject, err := req.RequireString("to_project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toAgent, err := req.RequireString("to_agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ttlSeconds, err := optInt(req, "ttl_seconds", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.svc.RequestLink(ctx, postmaster.LinkRequest{
		FromProject: fromProject,
		FromAgent:   fromAgent,
		ToProject:   toProject,
		ToAgent:     toAgent,
		Reason:      optString(req, "reason"),
		TTL:         time.Duration(ttlSeconds) * time.Second,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(link)
}

func (s *Server) respondContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := requireID(req, "link_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch action {
	case "approve":
		link, err := s.svc.ApproveLink(ctx, project, agent, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(link)
	case "block":
		link, err := s.svc.BlockLink(ctx, project, agent, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(link)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("action must be approve or block, got %q", action)), nil
	}
}

func (s *Server) listContacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.svc.ListLinks(ctx, project, agent)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *Server) checkContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decision, err := s.svc.CanDeliver(ctx, from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(decision)
}
