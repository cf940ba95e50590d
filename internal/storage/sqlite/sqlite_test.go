package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

func seedProject(t *testing.T, st *Store, slug string) *core.Project {
	t.Helper()
	p := &core.Project{Slug: slug, HumanKey: "/work/" + slug, CreatedAt: time.Now().UTC()}
	if err := st.Update(context.Background(), func(tx storage.Tx) error {
		return tx.CreateProject(p)
	}); err != nil {
		t.Fatalf("seed project %s: %v", slug, err)
	}
	return p
}

func seedAgent(t *testing.T, st *Store, projectID int64, name string) *core.Agent {
	t.Helper()
	now := time.Now().UTC()
	a := &core.Agent{
		ProjectID:     projectID,
		Name:          name,
		InceptionTS:   now,
		LastActiveTS:  now,
		ContactPolicy: core.ContactAuto,
	}
	if err := st.Update(context.Background(), func(tx storage.Tx) error {
		return tx.CreateAgent(a)
	}); err != nil {
		t.Fatalf("seed agent %s: %v", name, err)
	}
	return a
}

func seedMessage(t *testing.T, st *Store, projectID, senderID int64, threadID string, recipients ...int64) *core.Message {
	t.Helper()
	m := &core.Message{
		ProjectID:  projectID,
		SenderID:   senderID,
		ThreadID:   threadID,
		Subject:    "subject",
		BodyMD:     "body",
		Importance: core.ImportanceNormal,
		CreatedTS:  time.Now().UTC(),
	}
	if err := st.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.CreateMessage(m); err != nil {
			return err
		}
		for _, rid := range recipients {
			if err := tx.AddRecipient(&core.MessageRecipient{
				MessageID: m.ID, AgentID: rid, Kind: core.KindTo,
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func TestProjectDuplicateSlug(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	seedProject(t, st, "gamma")

	err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateProject(&core.Project{Slug: "gamma", HumanKey: "/elsewhere", CreatedAt: time.Now().UTC()})
	})
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestProjectLookups(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "alpha")
	seedProject(t, st, "beta")

	err := st.View(ctx, func(tx storage.Tx) error {
		byID, err := tx.ProjectByID(p.ID)
		if err != nil {
			return err
		}
		if byID.Slug != "alpha" || byID.HumanKey != "/work/alpha" {
			t.Fatalf("unexpected project: %+v", byID)
		}
		bySlug, err := tx.ProjectBySlug("beta")
		if err != nil {
			return err
		}
		if bySlug.Slug != "beta" {
			t.Fatalf("expected beta, got %s", bySlug.Slug)
		}
		all, err := tx.ListProjects()
		if err != nil {
			return err
		}
		if len(all) != 2 || all[0].Slug != "alpha" || all[1].Slug != "beta" {
			t.Fatalf("expected [alpha beta], got %+v", all)
		}
		if _, err := tx.ProjectBySlug("missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestProductProjects(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	pa := seedProject(t, st, "proj-a")
	pb := seedProject(t, st, "proj-b")
	seedProject(t, st, "proj-c")

	prod := &core.Product{ProductUID: "prod-1", Name: "Suite", CreatedAt: time.Now().UTC()}
	err := st.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateProduct(prod); err != nil {
			return err
		}
		for _, pid := range []int64{pa.ID, pb.ID} {
			if err := tx.AddProductProject(&core.ProductProjectLink{
				ProductID: prod.ID, ProjectID: pid, CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup product: %v", err)
	}

	// Attaching the same project twice violates the pair constraint.
	err = st.Update(ctx, func(tx storage.Tx) error {
		return tx.AddProductProject(&core.ProductProjectLink{
			ProductID: prod.ID, ProjectID: pa.ID, CreatedAt: time.Now().UTC(),
		})
	})
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		byUID, err := tx.ProductByUID("prod-1")
		if err != nil {
			return err
		}
		if byUID.Name != "Suite" {
			t.Fatalf("expected Suite, got %s", byUID.Name)
		}
		byName, err := tx.ProductByName("Suite")
		if err != nil {
			return err
		}
		if byName.ID != prod.ID {
			t.Fatalf("expected id %d, got %d", prod.ID, byName.ID)
		}
		members, err := tx.ProductProjects(prod.ID)
		if err != nil {
			return err
		}
		if len(members) != 2 || members[0].Slug != "proj-a" || members[1].Slug != "proj-b" {
			t.Fatalf("expected [proj-a proj-b], got %+v", members)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAgentNameUniquePerProject(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	pa := seedProject(t, st, "proj-a")
	pb := seedProject(t, st, "proj-b")
	seedAgent(t, st, pa.ID, "copper-hawk")

	err := st.Update(ctx, func(tx storage.Tx) error {
		now := time.Now().UTC()
		return tx.CreateAgent(&core.Agent{
			ProjectID: pa.ID, Name: "copper-hawk",
			InceptionTS: now, LastActiveTS: now, ContactPolicy: core.ContactAuto,
		})
	})
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same project, got %v", err)
	}

	// Same name in a different project is fine.
	seedAgent(t, st, pb.ID, "copper-hawk")
}

func TestAgentSaveRoundTrip(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	a := seedAgent(t, st, p.ID, "amber-fox")

	dereg := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	err := st.Update(ctx, func(tx storage.Tx) error {
		a.Program = "claude-code"
		a.Model = "opus"
		a.ContactPolicy = core.ContactContactsOnly
		a.DeregisteredTS = &dereg
		return tx.SaveAgent(a)
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.AgentByID(a.ID)
		if err != nil {
			return err
		}
		if got.Program != "claude-code" || got.Model != "opus" {
			t.Fatalf("program/model not saved: %+v", got)
		}
		if got.ContactPolicy != core.ContactContactsOnly {
			t.Fatalf("expected contacts_only, got %s", got.ContactPolicy)
		}
		if got.DeregisteredTS == nil || !got.DeregisteredTS.Equal(dereg) {
			t.Fatalf("expected deregistered at %v, got %v", dereg, got.DeregisteredTS)
		}
		if got.State() != core.AgentDeregistered {
			t.Fatalf("expected deregistered state, got %s", got.State())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAgentListExcludesDeregistered(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	seedAgent(t, st, p.ID, "alive")
	dead := seedAgent(t, st, p.ID, "dead")

	now := time.Now().UTC()
	err := st.Update(ctx, func(tx storage.Tx) error {
		dead.DeregisteredTS = &now
		return tx.SaveAgent(dead)
	})
	if err != nil {
		t.Fatalf("deregister: %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		active, err := tx.ListAgents(p.ID, false)
		if err != nil {
			return err
		}
		if len(active) != 1 || active[0].Name != "alive" {
			t.Fatalf("expected [alive], got %+v", active)
		}
		all, err := tx.ListAgents(p.ID, true)
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 agents with deregistered, got %d", len(all))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestTouchAgent(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	a := seedAgent(t, st, p.ID, "agent")

	later := a.LastActiveTS.Add(time.Hour).Truncate(time.Millisecond)
	err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.TouchAgent(a.ID, later)
	})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.AgentByID(a.ID)
		if err != nil {
			return err
		}
		if !got.LastActiveTS.Equal(later) {
			t.Fatalf("expected last_active %v, got %v", later, got.LastActiveTS)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = st.Update(ctx, func(tx storage.Tx) error {
		return tx.TouchAgent(99999, later)
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing agent, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")

	m := &core.Message{
		ProjectID:   p.ID,
		SenderID:    sender.ID,
		Subject:     "build broken",
		BodyMD:      "see **log**",
		Importance:  core.ImportanceHigh,
		AckRequired: true,
		CreatedTS:   time.Now().UTC().Truncate(time.Millisecond),
		Attachments: []core.Attachment{{ID: "att-1", Kind: core.AttachmentFile, Pointer: "/tmp/log.txt"}},
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateMessage(m)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.MessageByID(m.ID)
		if err != nil {
			return err
		}
		if got.ThreadID != "" {
			t.Fatalf("expected empty thread id, got %q", got.ThreadID)
		}
		if got.ThreadKey() != fmt.Sprintf("%d", m.ID) {
			t.Fatalf("expected thread key %d, got %s", m.ID, got.ThreadKey())
		}
		if got.Importance != core.ImportanceHigh || !got.AckRequired {
			t.Fatalf("importance/ack lost: %+v", got)
		}
		if !got.CreatedTS.Equal(m.CreatedTS) {
			t.Fatalf("expected created %v, got %v", m.CreatedTS, got.CreatedTS)
		}
		if len(got.Attachments) != 1 || got.Attachments[0].Pointer != "/tmp/log.txt" {
			t.Fatalf("attachments lost: %+v", got.Attachments)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMessageEmptyAttachmentsDecodeNonNil(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")
	m := seedMessage(t, st, p.ID, sender.ID, "")

	err := st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.MessageByID(m.ID)
		if err != nil {
			return err
		}
		if got.Attachments == nil {
			t.Fatal("attachments should decode to empty slice, not nil")
		}
		if len(got.Attachments) != 0 {
			t.Fatalf("expected no attachments, got %+v", got.Attachments)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRecipientReadAckSetOnce(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")
	rcpt := seedAgent(t, st, p.ID, "rcpt")
	m := seedMessage(t, st, p.ID, sender.ID, "", rcpt.ID)

	first := time.Now().UTC().Truncate(time.Millisecond)
	second := first.Add(time.Hour)

	for _, at := range []time.Time{first, second} {
		if err := st.Update(ctx, func(tx storage.Tx) error {
			if err := tx.SetRecipientRead(m.ID, rcpt.ID, at); err != nil {
				return err
			}
			return tx.SetRecipientAck(m.ID, rcpt.ID, at)
		}); err != nil {
			t.Fatalf("mark at %v: %v", at, err)
		}
	}

	err := st.View(ctx, func(tx storage.Tx) error {
		r, err := tx.Recipient(m.ID, rcpt.ID)
		if err != nil {
			return err
		}
		if r.ReadTS == nil || !r.ReadTS.Equal(first) {
			t.Fatalf("read_ts should keep first stamp %v, got %v", first, r.ReadTS)
		}
		if r.AckTS == nil || !r.AckTS.Equal(first) {
			t.Fatalf("ack_ts should keep first stamp %v, got %v", first, r.AckTS)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRecipientMissing(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")
	outsider := seedAgent(t, st, p.ID, "outsider")
	m := seedMessage(t, st, p.ID, sender.ID, "")

	err := st.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Recipient(m.ID, outsider.ID)
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInboxUnreadOnlyAndLimit(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")
	rcpt := seedAgent(t, st, p.ID, "rcpt")

	m1 := seedMessage(t, st, p.ID, sender.ID, "", rcpt.ID)
	m2 := seedMessage(t, st, p.ID, sender.ID, "", rcpt.ID)
	m3 := seedMessage(t, st, p.ID, sender.ID, "", rcpt.ID)

	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.SetRecipientRead(m1.ID, rcpt.ID, time.Now().UTC())
	}); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	err := st.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Inbox(storage.InboxQuery{AgentIDs: []int64{rcpt.ID}})
		if err != nil {
			return err
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 inbox items, got %d", len(all))
		}
		// Newest first.
		if all[0].Message.ID != m3.ID {
			t.Fatalf("expected newest message %d first, got %d", m3.ID, all[0].Message.ID)
		}
		if all[0].SenderName != "sender" || all[0].Project != "proj" {
			t.Fatalf("sender display fields missing: %+v", all[0])
		}

		unread, err := tx.Inbox(storage.InboxQuery{AgentIDs: []int64{rcpt.ID}, UnreadOnly: true})
		if err != nil {
			return err
		}
		if len(unread) != 2 {
			t.Fatalf("expected 2 unread, got %d", len(unread))
		}
		for _, item := range unread {
			if item.Message.ID == m1.ID {
				t.Fatal("read message should not appear in unread inbox")
			}
		}

		limited, err := tx.Inbox(storage.InboxQuery{AgentIDs: []int64{rcpt.ID}, Limit: 1})
		if err != nil {
			return err
		}
		if len(limited) != 1 || limited[0].Message.ID != m3.ID {
			t.Fatalf("expected only newest message, got %+v", limited)
		}

		none, err := tx.Inbox(storage.InboxQuery{})
		if err != nil {
			return err
		}
		if len(none) != 0 {
			t.Fatalf("expected empty inbox for no agents, got %d", len(none))
		}
		_ = m2
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestInboxAcrossAgents(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	pa := seedProject(t, st, "proj-a")
	pb := seedProject(t, st, "proj-b")
	senderA := seedAgent(t, st, pa.ID, "sender")
	senderB := seedAgent(t, st, pb.ID, "sender")
	rcptA := seedAgent(t, st, pa.ID, "worker")
	rcptB := seedAgent(t, st, pb.ID, "worker")

	seedMessage(t, st, pa.ID, senderA.ID, "", rcptA.ID)
	seedMessage(t, st, pb.ID, senderB.ID, "", rcptB.ID)

	err := st.View(ctx, func(tx storage.Tx) error {
		items, err := tx.Inbox(storage.InboxQuery{AgentIDs: []int64{rcptA.ID, rcptB.ID}})
		if err != nil {
			return err
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items across projects, got %d", len(items))
		}
		slugs := map[string]bool{}
		for _, it := range items {
			slugs[it.Project] = true
		}
		if !slugs["proj-a"] || !slugs["proj-b"] {
			t.Fatalf("expected items from both projects, got %v", slugs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestThreadMessagesRootByOwnID(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	alice := seedAgent(t, st, p.ID, "alice")
	bob := seedAgent(t, st, p.ID, "bob")

	// Root carries no thread id; replies reference the root's id.
	root := seedMessage(t, st, p.ID, alice.ID, "", bob.ID)
	reply1 := seedMessage(t, st, p.ID, bob.ID, root.ThreadKey(), alice.ID)
	reply2 := seedMessage(t, st, p.ID, alice.ID, root.ThreadKey(), bob.ID)
	seedMessage(t, st, p.ID, alice.ID, "", bob.ID) // unrelated root

	err := st.View(ctx, func(tx storage.Tx) error {
		msgs, err := tx.ThreadMessages(p.ID, root.ThreadKey())
		if err != nil {
			return err
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages in thread, got %d", len(msgs))
		}
		if msgs[0].ID != root.ID || msgs[1].ID != reply1.ID || msgs[2].ID != reply2.ID {
			t.Fatalf("thread out of order: %d %d %d", msgs[0].ID, msgs[1].ID, msgs[2].ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestActiveReservationsLazyExpiry(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	a := seedAgent(t, st, p.ID, "agent")

	now := time.Now().UTC()
	live := &core.FileReservation{
		ProjectID: p.ID, AgentID: a.ID, PathPattern: "src/live.go",
		Exclusive: true, CreatedTS: now, ExpiresTS: now.Add(time.Hour),
	}
	lapsed := &core.FileReservation{
		ProjectID: p.ID, AgentID: a.ID, PathPattern: "src/lapsed.go",
		Exclusive: true, CreatedTS: now.Add(-2 * time.Hour), ExpiresTS: now.Add(-time.Hour),
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateReservation(live); err != nil {
			return err
		}
		return tx.CreateReservation(lapsed)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := st.View(ctx, func(tx storage.Tx) error {
		active, err := tx.ActiveReservations(p.ID, now)
		if err != nil {
			return err
		}
		if len(active) != 1 || active[0].ID != live.ID {
			t.Fatalf("expected only live reservation, got %+v", active)
		}
		// The lapsed row still exists; it just stops matching.
		row, err := tx.ReservationByID(lapsed.ID)
		if err != nil {
			return err
		}
		if row.State(now) != core.ReservationExpired {
			t.Fatalf("expected expired state, got %s", row.State(now))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestReleaseReservationTwice(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	a := seedAgent(t, st, p.ID, "agent")

	now := time.Now().UTC()
	r := &core.FileReservation{
		ProjectID: p.ID, AgentID: a.ID, PathPattern: "src/main.go",
		Exclusive: true, CreatedTS: now, ExpiresTS: now.Add(time.Hour),
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateReservation(r)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	released := now.Add(time.Minute).Truncate(time.Millisecond)
	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.ReleaseReservation(r.ID, released)
	}); err != nil {
		t.Fatalf("first release: %v", err)
	}

	err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.ReleaseReservation(r.ID, released.Add(time.Minute))
	})
	if !errors.Is(err, core.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.ReservationByID(r.ID)
		if err != nil {
			return err
		}
		if got.ReleasedTS == nil || !got.ReleasedTS.Equal(released) {
			t.Fatalf("released_ts should keep first stamp %v, got %v", released, got.ReleasedTS)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestPurgeReservations(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	gone := seedAgent(t, st, p.ID, "gone")
	busy := seedAgent(t, st, p.ID, "busy")

	now := time.Now().UTC()
	if err := st.Update(ctx, func(tx storage.Tx) error {
		gone.DeregisteredTS = &now
		return tx.SaveAgent(gone)
	}); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	dead := &core.FileReservation{
		ProjectID: p.ID, AgentID: gone.ID, PathPattern: "old/**",
		Exclusive: true, CreatedTS: now.Add(-3 * time.Hour), ExpiresTS: now.Add(-2 * time.Hour),
	}
	live := &core.FileReservation{
		ProjectID: p.ID, AgentID: busy.ID, PathPattern: "src/**",
		Exclusive: true, CreatedTS: now, ExpiresTS: now.Add(time.Hour),
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateReservation(dead); err != nil {
			return err
		}
		return tx.CreateReservation(live)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var purged []storage.PurgedReservation
	err := st.Update(ctx, func(tx storage.Tx) error {
		var err error
		purged, err = tx.PurgeReservations(storage.PurgeFilter{
			Cutoff:         now.Add(-time.Hour),
			OwnerIdleSince: now.Add(-30 * time.Minute),
		})
		return err
	})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(purged) != 1 {
		t.Fatalf("expected 1 purged row, got %d", len(purged))
	}
	if purged[0].ID != dead.ID || purged[0].ProjectSlug != "proj" || purged[0].AgentName != "gone" {
		t.Fatalf("unexpected purge victim: %+v", purged[0])
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.ReservationByID(dead.ID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected purged row gone, got %v", err)
		}
		if _, err := tx.ReservationByID(live.ID); err != nil {
			t.Fatalf("live reservation should survive: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestLinkEndpointsDirectional(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	pa := seedProject(t, st, "proj-a")
	pb := seedProject(t, st, "proj-b")
	alice := seedAgent(t, st, pa.ID, "alice")
	carol := seedAgent(t, st, pb.ID, "carol")

	now := time.Now().UTC()
	l := &core.AgentLink{
		AProjectID: pa.ID, AAgentID: alice.ID,
		BProjectID: pb.ID, BAgentID: carol.ID,
		Status: core.LinkPending, Reason: "pairing on auth work",
		CreatedTS: now, UpdatedTS: now,
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateLink(l)
	}); err != nil {
		t.Fatalf("create link: %v", err)
	}

	err := st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.LinkByEndpoints(pa.ID, alice.ID, pb.ID, carol.ID)
		if err != nil {
			return err
		}
		if got.ID != l.ID || got.Status != core.LinkPending {
			t.Fatalf("unexpected link: %+v", got)
		}
		// The reverse direction is a distinct record and does not exist.
		if _, err := tx.LinkByEndpoints(pb.ID, carol.ID, pa.ID, alice.ID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for reverse direction, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// Re-creating the same directed pair violates the uniqueness constraint.
	err = st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateLink(&core.AgentLink{
			AProjectID: pa.ID, AAgentID: alice.ID,
			BProjectID: pb.ID, BAgentID: carol.ID,
			Status: core.LinkPending, CreatedTS: now, UpdatedTS: now,
		})
	})
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if err := st.Update(ctx, func(tx storage.Tx) error {
		l.Status = core.LinkApproved
		l.UpdatedTS = now.Add(time.Minute)
		return tx.SaveLink(l)
	}); err != nil {
		t.Fatalf("save link: %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		forAlice, err := tx.ListLinksForAgent(alice.ID)
		if err != nil {
			return err
		}
		forCarol, err := tx.ListLinksForAgent(carol.ID)
		if err != nil {
			return err
		}
		if len(forAlice) != 1 || len(forCarol) != 1 {
			t.Fatalf("expected link visible from both ends, got %d/%d", len(forAlice), len(forCarol))
		}
		if forAlice[0].Status != core.LinkApproved {
			t.Fatalf("expected approved, got %s", forAlice[0].Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSuggestionPair(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	pa := seedProject(t, st, "proj-a")
	pb := seedProject(t, st, "proj-b")

	now := time.Now().UTC()
	aID, bID := core.NormalizePair(pb.ID, pa.ID)
	s := &core.ProjectSiblingSuggestion{
		ProjectAID: aID, ProjectBID: bID, Score: 0.82,
		Status: core.SuggestionSuggested, Rationale: "shared module prefix",
		CreatedTS: now, EvaluatedTS: now,
	}
	if err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateSuggestion(s)
	}); err != nil {
		t.Fatalf("create suggestion: %v", err)
	}

	err := st.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateSuggestion(&core.ProjectSiblingSuggestion{
			ProjectAID: aID, ProjectBID: bID, Score: 0.5,
			Status: core.SuggestionSuggested, CreatedTS: now, EvaluatedTS: now,
		})
	})
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same pair, got %v", err)
	}

	confirmed := now.Add(time.Minute).Truncate(time.Millisecond)
	if err := st.Update(ctx, func(tx storage.Tx) error {
		s.Status = core.SuggestionConfirmed
		s.ConfirmedTS = &confirmed
		return tx.SaveSuggestion(s)
	}); err != nil {
		t.Fatalf("save suggestion: %v", err)
	}

	err = st.View(ctx, func(tx storage.Tx) error {
		got, err := tx.SuggestionByPair(aID, bID)
		if err != nil {
			return err
		}
		if got.Status != core.SuggestionConfirmed || got.ConfirmedTS == nil {
			t.Fatalf("expected confirmed, got %+v", got)
		}
		forA, err := tx.ListSuggestions(pa.ID)
		if err != nil {
			return err
		}
		if len(forA) != 1 {
			t.Fatalf("expected 1 suggestion for proj-a, got %d", len(forA))
		}
		all, err := tx.ListSuggestions(0)
		if err != nil {
			return err
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 suggestion total, got %d", len(all))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()
	p := seedProject(t, st, "proj")
	sender := seedAgent(t, st, p.ID, "sender")

	boom := errors.New("fan-out denied")
	err := st.Update(ctx, func(tx storage.Tx) error {
		m := &core.Message{
			ProjectID: p.ID, SenderID: sender.ID, Subject: "doomed",
			Importance: core.ImportanceNormal, CreatedTS: time.Now().UTC(),
		}
		if err := tx.CreateMessage(m); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}

	// The insert must not be visible: the whole transaction rolled back.
	err = st.View(ctx, func(tx storage.Tx) error {
		items, err := tx.Inbox(storage.InboxQuery{AgentIDs: []int64{sender.ID}})
		if err != nil {
			return err
		}
		if len(items) != 0 {
			t.Fatalf("expected no messages after rollback, got %d", len(items))
		}
		if _, err := tx.MessageByID(1); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after rollback, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
