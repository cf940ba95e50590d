package postmaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
)

type testBus struct {
	mu     sync.Mutex
	events []core.Event
}

func (b *testBus) Broadcast(project, agent string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev, ok := event.(core.Event); ok {
		b.events = append(b.events, ev)
	}
}

func (b *testBus) byType(t core.EventType) []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *testBus) {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	t.Cleanup(func() { st.Close() })
	bus := &testBus{}
	return NewService(st).WithBroadcaster(bus), bus
}

// register is a fixture shortcut for an agent with an explicit policy.
func register(t *testing.T, svc *Service, project, name, policy string) *core.Agent {
	t.Helper()
	a, err := svc.RegisterAgent(context.Background(), RegisterAgentRequest{
		Project:       project,
		Name:          name,
		ContactPolicy: policy,
	})
	if err != nil {
		t.Fatalf("register %s:%s: %v", project, name, err)
	}
	return a
}

// approvedLink wires from -> to and approves it as the target.
func approvedLink(t *testing.T, svc *Service, fromProject, fromAgent, toProject, toAgent string, ttl time.Duration) *core.AgentLink {
	t.Helper()
	ctx := context.Background()
	link, err := svc.RequestLink(ctx, LinkRequest{
		FromProject: fromProject, FromAgent: fromAgent,
		ToProject: toProject, ToAgent: toAgent,
		TTL: ttl,
	})
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	link, err = svc.ApproveLink(ctx, toProject, toAgent, link.ID)
	if err != nil {
		t.Fatalf("approve link: %v", err)
	}
	return link
}
