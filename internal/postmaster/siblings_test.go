package postmaster

import (
	"context"
	"errors"
	"testing"

	"github.com/mistakeknot/interlock/internal/core"
)

func TestSuggestSiblingUpsert(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "api", "a", "auto")
	register(t, svc, "web", "b", "auto")

	first, err := svc.SuggestSibling(ctx, "api", "web", 0.4, "shared contributors")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if first.Status != core.SuggestionSuggested {
		t.Fatalf("expected suggested, got %q", first.Status)
	}

	// Re-scoring the same pair updates in place, whichever way round the
	// slugs arrive.
	second, err := svc.SuggestSibling(ctx, "web", "api", 0.9, "shared ci pipeline")
	if err != nil {
		t.Fatalf("re-suggest: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same suggestion row, got %d want %d", second.ID, first.ID)
	}
	if second.Score != 0.9 || second.Rationale != "shared ci pipeline" {
		t.Fatalf("expected updated score and rationale, got %+v", second)
	}
}

func TestSiblingDecisions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "api", "a", "auto")
	register(t, svc, "web", "b", "auto")
	register(t, svc, "docs", "c", "auto")

	confirmed, err := svc.SuggestSibling(ctx, "api", "web", 0.8, "")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if _, err := svc.ConfirmSibling(ctx, confirmed.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Repeating the decision is a no-op; reversing it is not.
	if _, err := svc.ConfirmSibling(ctx, confirmed.ID); err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if _, err := svc.DismissSibling(ctx, confirmed.ID); !errors.Is(err, core.ErrAlreadyDecided) {
		t.Fatalf("dismiss after confirm should fail, got %v", err)
	}

	dismissed, err := svc.SuggestSibling(ctx, "api", "docs", 0.2, "")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if _, err := svc.DismissSibling(ctx, dismissed.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := svc.DismissSibling(ctx, dismissed.ID); err != nil {
		t.Fatalf("re-dismiss: %v", err)
	}
	if _, err := svc.ConfirmSibling(ctx, dismissed.ID); !errors.Is(err, core.ErrAlreadyDecided) {
		t.Fatalf("confirm after dismiss should fail, got %v", err)
	}
}

func TestSuggestDecidedPairKeepsDecision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "api", "a", "auto")
	register(t, svc, "web", "b", "auto")

	sg, err := svc.SuggestSibling(ctx, "api", "web", 0.5, "initial")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if _, err := svc.ConfirmSibling(ctx, sg.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	again, err := svc.SuggestSibling(ctx, "api", "web", 0.1, "noise")
	if err != nil {
		t.Fatalf("re-suggest: %v", err)
	}
	if again.Status != core.SuggestionConfirmed {
		t.Fatalf("decision must survive re-suggestion, got %q", again.Status)
	}
	if again.Score != 0.5 {
		t.Fatalf("decided pair must not re-score, got %v", again.Score)
	}
}

func TestListSiblings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "api", "a", "auto")
	register(t, svc, "web", "b", "auto")
	register(t, svc, "docs", "c", "auto")

	if _, err := svc.SuggestSibling(ctx, "api", "web", 0.3, ""); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if _, err := svc.SuggestSibling(ctx, "api", "docs", 0.7, ""); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if _, err := svc.SuggestSibling(ctx, "web", "docs", 0.5, ""); err != nil {
		t.Fatalf("suggest: %v", err)
	}

	api, err := svc.ListSiblings(ctx, "api")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(api) != 2 {
		t.Fatalf("expected 2 suggestions touching api, got %d", len(api))
	}
	if api[0].Score < api[1].Score {
		t.Fatalf("expected highest score first, got %v then %v", api[0].Score, api[1].Score)
	}

	all, err := svc.ListSiblings(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all suggestions, got %d", len(all))
	}
}

func TestSuggestSiblingValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "api", "a", "auto")

	var verr *core.ValidationError
	if _, err := svc.SuggestSibling(ctx, "api", "api", 1, ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for self pair, got %v", err)
	}
	if _, err := svc.SuggestSibling(ctx, "api", "nowhere", 1, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}
