package postmaster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

func TestCanDeliverSameProject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p1", "bob", "auto")

	d, err := svc.CanDeliver(ctx, "p1:alice", "p1:bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("same-project delivery should be allowed, got %+v", d)
	}
}

// Intra-project mail flows even past block_all.
func TestCanDeliverBlockAllSameProjectException(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p1", "hermit", "block_all")
	register(t, svc, "p2", "mallory", "auto")

	d, err := svc.CanDeliver(ctx, "p1:alice", "p1:hermit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("block_all must not gate same-project mail, got %+v", d)
	}

	d, err = svc.CanDeliver(ctx, "p2:mallory", "p1:hermit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow || d.Reason != core.DenyBlocksAll {
		t.Fatalf("expected deny %q, got %+v", core.DenyBlocksAll, d)
	}
}

func TestCanDeliverDeregisteredRecipient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p1", "bob", "auto")
	if _, err := svc.DeregisterAgent(ctx, "p1", "bob"); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	d, err := svc.CanDeliver(ctx, "p1:alice", "p1:bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow || d.Reason != core.DenyRecipientInactive {
		t.Fatalf("expected deny %q, got %+v", core.DenyRecipientInactive, d)
	}
}

func TestCanDeliverCrossProjectPolicies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p2", "open-agent", "open")
	register(t, svc, "p2", "auto-agent", "auto")
	register(t, svc, "p2", "carol", "contacts_only")

	cases := []struct {
		recipient string
		allow     bool
		reason    string
	}{
		{"p2:open-agent", true, ""},
		{"p2:auto-agent", true, ""},
		{"p2:carol", false, core.DenyNoContactPath},
	}
	for _, tc := range cases {
		d, err := svc.CanDeliver(ctx, "p1:alice", tc.recipient)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.recipient, err)
		}
		if d.Allow != tc.allow || d.Reason != tc.reason {
			t.Fatalf("%s: expected allow=%v reason=%q, got %+v", tc.recipient, tc.allow, tc.reason, d)
		}
	}
}

func TestCanDeliverContactsOnlyWithApprovedLink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p2", "carol", "contacts_only")
	approvedLink(t, svc, "p1", "alice", "p2", "carol", 0)

	d, err := svc.CanDeliver(ctx, "p1:alice", "p2:carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("approved link should open contacts_only, got %+v", d)
	}

	// The grant is directional: carol never asked to reach alice, but
	// alice's auto policy admits her anyway.
	d, err = svc.CanDeliver(ctx, "p2:carol", "p1:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("auto recipient should admit unlinked sender, got %+v", d)
	}
}

func TestCanDeliverExpiredLink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })

	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p2", "carol", "contacts_only")
	approvedLink(t, svc, "p1", "alice", "p2", "carol", time.Hour)

	d, err := svc.CanDeliver(ctx, "p1:alice", "p2:carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("fresh link should allow, got %+v", d)
	}

	now = now.Add(2 * time.Hour)
	d, err = svc.CanDeliver(ctx, "p1:alice", "p2:carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow || d.Reason != core.DenyNoContactPath {
		t.Fatalf("expired link should deny with %q, got %+v", core.DenyNoContactPath, d)
	}
}

func TestCanDeliverBlockedLinkWinsOverPolicy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	// Even an open recipient refuses a sender they explicitly blocked.
	register(t, svc, "p2", "dave", "open")

	link, err := svc.RequestLink(ctx, LinkRequest{
		FromProject: "p1", FromAgent: "alice",
		ToProject: "p2", ToAgent: "dave",
	})
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	if _, err := svc.BlockLink(ctx, "p2", "dave", link.ID); err != nil {
		t.Fatalf("block link: %v", err)
	}

	d, err := svc.CanDeliver(ctx, "p1:alice", "p2:dave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow || d.Reason != core.DenyLinkBlocked {
		t.Fatalf("expected deny %q, got %+v", core.DenyLinkBlocked, d)
	}
}

func TestCanDeliverBlockIsDirectional(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")
	register(t, svc, "p2", "dave", "auto")

	link, err := svc.RequestLink(ctx, LinkRequest{
		FromProject: "p1", FromAgent: "alice",
		ToProject: "p2", ToAgent: "dave",
	})
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	if _, err := svc.BlockLink(ctx, "p2", "dave", link.ID); err != nil {
		t.Fatalf("block link: %v", err)
	}

	// dave -> alice has no link record; alice is auto, so dave gets through.
	d, err := svc.CanDeliver(ctx, "p2:dave", "p1:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("block on alice->dave must not gate dave->alice, got %+v", d)
	}
}

func TestCanDeliverUnknownEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "p1", "alice", "auto")

	if _, err := svc.CanDeliver(ctx, "p1:alice", "p1:ghost"); !errors.Is(err, core.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent for missing recipient, got %v", err)
	}
	if _, err := svc.CanDeliver(ctx, "p1:ghost", "p1:alice"); !errors.Is(err, core.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent for missing sender, got %v", err)
	}
	if _, err := svc.CanDeliver(ctx, "nowhere:alice", "p1:alice"); !errors.Is(err, core.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent for missing project, got %v", err)
	}
}
