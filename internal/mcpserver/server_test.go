package mcpserver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/postmaster"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	st := sqlite.NewSQLiteTest(t)
	svc := postmaster.NewService(st)
	return New(svc)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so dispatch to the
	// handler functions ourselves.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "register_agent":
		result, err = srv.registerAgent(ctx, req)
	case "send_message":
		result, err = srv.sendMessage(ctx, req)
	case "fetch_inbox":
		result, err = srv.fetchInbox(ctx, req)
	case "mark_read":
		result, err = srv.markRead(ctx, req)
	case "mark_ack":
		result, err = srv.markAck(ctx, req)
	case "reserve_paths":
		result, err = srv.reservePaths(ctx, req)
	case "release_reservation":
		result, err = srv.releaseReservation(ctx, req)
	case "list_reservations":
		result, err = srv.listReservations(ctx, req)
	case "request_contact":
		result, err = srv.requestContact(ctx, req)
	case "respond_contact":
		result, err = srv.respondContact(ctx, req)
	case "list_contacts":
		result, err = srv.listContacts(ctx, req)
	case "check_contact":
		result, err = srv.checkContact(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult(t *testing.T, r *mcp.CallToolResult, v interface{}) {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool returned error: %s", resultText(r))
	}
	if err := json.Unmarshal([]byte(resultText(r)), v); err != nil {
		t.Fatalf("decode tool result: %v\n%s", err, resultText(r))
	}
}

func registerTool(t *testing.T, srv *Server, project, name string) core.Agent {
	t.Helper()
	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"project": project,
		"name":    name,
	})
	var agent core.Agent
	decodeResult(t, r, &agent)
	return agent
}

func TestRegisterAgentTool(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"project":          "proj-a",
		"name":             "alice",
		"program":          "forge",
		"task_description": "refactoring the parser",
	})
	var agent core.Agent
	decodeResult(t, r, &agent)
	if agent.Name != "alice" {
		t.Errorf("name = %q, want alice", agent.Name)
	}
	if agent.Program != "forge" {
		t.Errorf("program = %q, want forge", agent.Program)
	}
	if agent.ContactPolicy != core.ContactAuto {
		t.Errorf("contact_policy = %q, want auto", agent.ContactPolicy)
	}
}

func TestRegisterAgentToolGeneratesName(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"project": "proj-a",
	})
	var agent core.Agent
	decodeResult(t, r, &agent)
	if agent.Name == "" {
		t.Error("expected a generated agent name")
	}
}

func TestRegisterAgentToolMissingProject(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"name": "alice",
	})
	if !r.IsError {
		t.Error("expected error when project is missing")
	}
}

func TestSendMessageAndFetchInboxTools(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-a", "bob")

	r := callTool(t, srv, "send_message", map[string]interface{}{
		"project": "proj-a",
		"sender":  "alice",
		"to":      "bob",
		"subject": "build status",
		"body_md": "tests are green",
	})
	var sent postmaster.SentMessage
	decodeResult(t, r, &sent)
	if sent.Message.Subject != "build status" {
		t.Errorf("subject = %q", sent.Message.Subject)
	}
	if len(sent.To) != 1 || sent.To[0] != "proj-a:bob" {
		t.Errorf("to = %v, want [proj-a:bob]", sent.To)
	}

	r = callTool(t, srv, "fetch_inbox", map[string]interface{}{
		"project": "proj-a",
		"agent":   "bob",
	})
	var items []struct {
		Message    core.Message `json:"message"`
		SenderName string       `json:"sender_name"`
	}
	decodeResult(t, r, &items)
	if len(items) != 1 {
		t.Fatalf("inbox size = %d, want 1", len(items))
	}
	if items[0].Message.Subject != "build status" {
		t.Errorf("inbox subject = %q", items[0].Message.Subject)
	}
	if items[0].SenderName != "alice" {
		t.Errorf("sender = %q, want alice", items[0].SenderName)
	}
}

func TestSendMessageToolMultipleRecipients(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-a", "bob")
	registerTool(t, srv, "proj-a", "carol")

	r := callTool(t, srv, "send_message", map[string]interface{}{
		"project": "proj-a",
		"sender":  "alice",
		"to":      "bob, carol",
		"subject": "standup",
	})
	var sent postmaster.SentMessage
	decodeResult(t, r, &sent)
	if len(sent.To) != 2 {
		t.Fatalf("to = %v, want two recipients", sent.To)
	}
}

func TestSendMessageToolDenied(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"project":        "proj-b",
		"name":           "bob",
		"contact_policy": "contacts_only",
	})
	var bob core.Agent
	decodeResult(t, r, &bob)

	r = callTool(t, srv, "send_message", map[string]interface{}{
		"project": "proj-a",
		"sender":  "alice",
		"to":      "proj-b:bob",
		"subject": "ping",
	})
	if !r.IsError {
		t.Fatal("expected delivery denial")
	}
	if !strings.Contains(resultText(r), "proj-b:bob") {
		t.Errorf("denial should name the recipient: %s", resultText(r))
	}
}

func TestMarkReadAndAckTools(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-a", "bob")

	r := callTool(t, srv, "send_message", map[string]interface{}{
		"project":      "proj-a",
		"sender":       "alice",
		"to":           "bob",
		"subject":      "please confirm",
		"ack_required": "true",
	})
	var sent postmaster.SentMessage
	decodeResult(t, r, &sent)
	id := strconv.FormatInt(sent.Message.ID, 10)

	r = callTool(t, srv, "mark_read", map[string]interface{}{
		"project":    "proj-a",
		"agent":      "bob",
		"message_id": id,
	})
	var rec core.MessageRecipient
	decodeResult(t, r, &rec)
	if rec.ReadTS == nil {
		t.Error("read_ts not set")
	}

	r = callTool(t, srv, "mark_ack", map[string]interface{}{
		"project":    "proj-a",
		"agent":      "bob",
		"message_id": id,
	})
	decodeResult(t, r, &rec)
	if rec.AckTS == nil {
		t.Error("ack_ts not set")
	}
}

func TestMarkReadToolRejectsNonRecipient(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-a", "bob")

	r := callTool(t, srv, "send_message", map[string]interface{}{
		"project": "proj-a",
		"sender":  "alice",
		"to":      "bob",
		"subject": "x",
	})
	var sent postmaster.SentMessage
	decodeResult(t, r, &sent)

	r = callTool(t, srv, "mark_read", map[string]interface{}{
		"project":    "proj-a",
		"agent":      "alice",
		"message_id": strconv.FormatInt(sent.Message.ID, 10),
	})
	if !r.IsError {
		t.Error("sender should not be able to mark its own message read")
	}
}

func TestReserveAndReleaseTools(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")

	r := callTool(t, srv, "reserve_paths", map[string]interface{}{
		"project":  "proj-a",
		"agent":    "alice",
		"patterns": "src/**, docs/plan.md",
		"reason":   "refactor",
	})
	var granted []core.FileReservation
	decodeResult(t, r, &granted)
	if len(granted) != 2 {
		t.Fatalf("granted = %d, want 2", len(granted))
	}
	if !granted[0].Exclusive {
		t.Error("reservations default to exclusive")
	}

	r = callTool(t, srv, "release_reservation", map[string]interface{}{
		"project":        "proj-a",
		"agent":          "alice",
		"reservation_id": strconv.FormatInt(granted[0].ID, 10),
	})
	var released core.FileReservation
	decodeResult(t, r, &released)
	if released.ReleasedTS == nil {
		t.Error("released_ts not set")
	}

	r = callTool(t, srv, "release_reservation", map[string]interface{}{
		"project":        "proj-a",
		"agent":          "alice",
		"reservation_id": strconv.FormatInt(granted[0].ID, 10),
	})
	if !r.IsError {
		t.Error("double release should fail")
	}
}

func TestReserveToolConflict(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-a", "bob")

	callTool(t, srv, "reserve_paths", map[string]interface{}{
		"project":  "proj-a",
		"agent":    "alice",
		"patterns": "src/**",
	})

	r := callTool(t, srv, "reserve_paths", map[string]interface{}{
		"project":  "proj-a",
		"agent":    "bob",
		"patterns": "src/parser.go",
	})
	if !r.IsError {
		t.Fatal("expected a reservation conflict")
	}
	if !strings.Contains(resultText(r), "src/**") {
		t.Errorf("conflict should name the holder's pattern: %s", resultText(r))
	}
}

func TestListReservationsTool(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")

	callTool(t, srv, "reserve_paths", map[string]interface{}{
		"project":  "proj-a",
		"agent":    "alice",
		"patterns": "src/**, docs/**",
	})

	r := callTool(t, srv, "list_reservations", map[string]interface{}{
		"project": "proj-a",
	})
	var active []core.FileReservation
	decodeResult(t, r, &active)
	if len(active) != 2 {
		t.Errorf("active = %d, want 2", len(active))
	}

	r = callTool(t, srv, "list_reservations", map[string]interface{}{
		"project": "proj-a",
		"pattern": "docs/notes.md",
	})
	decodeResult(t, r, &active)
	if len(active) != 1 {
		t.Errorf("filtered = %d, want 1", len(active))
	}
}

func TestReserveToolRejectsBadTTL(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")

	r := callTool(t, srv, "reserve_paths", map[string]interface{}{
		"project":     "proj-a",
		"agent":       "alice",
		"patterns":    "src/**",
		"ttl_seconds": "soon",
	})
	if !r.IsError {
		t.Error("non-numeric ttl_seconds should fail")
	}
}

func TestContactLinkTools(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	r := callTool(t, srv, "register_agent", map[string]interface{}{
		"project":        "proj-b",
		"name":           "bob",
		"contact_policy": "contacts_only",
	})
	var bob core.Agent
	decodeResult(t, r, &bob)

	r = callTool(t, srv, "request_contact", map[string]interface{}{
		"from_project": "proj-a",
		"from_agent":   "alice",
		"to_project":   "proj-b",
		"to_agent":     "bob",
		"reason":       "coordinating the release",
	})
	var link core.AgentLink
	decodeResult(t, r, &link)
	if link.Status != core.LinkPending {
		t.Fatalf("status = %q, want pending", link.Status)
	}

	// Requester cannot approve its own request.
	r = callTool(t, srv, "respond_contact", map[string]interface{}{
		"project": "proj-a",
		"agent":   "alice",
		"link_id": strconv.FormatInt(link.ID, 10),
		"action":  "approve",
	})
	if !r.IsError {
		t.Error("requester approval should fail")
	}

	r = callTool(t, srv, "respond_contact", map[string]interface{}{
		"project": "proj-b",
		"agent":   "bob",
		"link_id": strconv.FormatInt(link.ID, 10),
		"action":  "approve",
	})
	decodeResult(t, r, &link)
	if link.Status != core.LinkApproved {
		t.Fatalf("status = %q, want approved", link.Status)
	}

	r = callTool(t, srv, "check_contact", map[string]interface{}{
		"from": "proj-a:alice",
		"to":   "proj-b:bob",
	})
	var decision core.Decision
	decodeResult(t, r, &decision)
	if !decision.Allow {
		t.Errorf("delivery should be allowed after approval: %s", decision.Reason)
	}

	r = callTool(t, srv, "list_contacts", map[string]interface{}{
		"project": "proj-b",
		"agent":   "bob",
	})
	var links []core.AgentLink
	decodeResult(t, r, &links)
	if len(links) != 1 {
		t.Errorf("links = %d, want 1", len(links))
	}
}

func TestRespondContactToolRejectsBadAction(t *testing.T) {
	srv := testServer(t)
	registerTool(t, srv, "proj-a", "alice")
	registerTool(t, srv, "proj-b", "bob")

	r := callTool(t, srv, "request_contact", map[string]interface{}{
		"from_project": "proj-a",
		"from_agent":   "alice",
		"to_project":   "proj-b",
		"to_agent":     "bob",
	})
	var link core.AgentLink
	decodeResult(t, r, &link)

	r = callTool(t, srv, "respond_contact", map[string]interface{}{
		"project": "proj-b",
		"agent":   "bob",
		"link_id": strconv.FormatInt(link.ID, 10),
		"action":  "shrug",
	})
	if !r.IsError {
		t.Error("unknown action should fail")
	}
}

func TestToolsAreRegistered(t *testing.T) {
	srv := testServer(t)
	if srv.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}
