package postmaster

import (
	"context"
	"errors"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// SuggestSibling records (or re-scores) the hint that two projects are
// related. The pair is undirected; scoring happens outside this server. A
// pair already confirmed or dismissed keeps its decision.
func (s *Service) SuggestSibling(ctx context.Context, slugA, slugB string, score float64, rationale string) (*core.ProjectSiblingSuggestion, error) {
	if slugA == slugB {
		return nil, core.Invalidf("a project cannot be its own sibling")
	}
	var out *core.ProjectSiblingSuggestion
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		pa, err := tx.ProjectBySlug(slugA)
		if err != nil {
			return err
		}
		pb, err := tx.ProjectBySlug(slugB)
		if err != nil {
			return err
		}
		aID, bID := core.NormalizePair(pa.ID, pb.ID)
		now := s.now()

		existing, err := tx.SuggestionByPair(aID, bID)
		switch {
		case err == nil:
			if existing.Status == core.SuggestionSuggested {
				existing.Score = score
				existing.Rationale = rationale
				existing.EvaluatedTS = now
				if err := tx.SaveSuggestion(existing); err != nil {
					return err
				}
			}
			out = existing
			return nil
		case !errors.Is(err, core.ErrNotFound):
			return err
		}

		sg := &core.ProjectSiblingSuggestion{
			ProjectAID:  aID,
			ProjectBID:  bID,
			Score:       score,
			Status:      core.SuggestionSuggested,
			Rationale:   rationale,
			CreatedTS:   now,
			EvaluatedTS: now,
		}
		if err := tx.CreateSuggestion(sg); err != nil {
			return err
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmSibling accepts a suggestion. Confirming twice is a no-op;
// confirming a dismissed pair fails with ErrAlreadyDecided.
func (s *Service) ConfirmSibling(ctx context.Context, suggestionID int64) (*core.ProjectSiblingSuggestion, error) {
	return s.decideSibling(ctx, suggestionID, core.SuggestionConfirmed)
}

// DismissSibling rejects a suggestion. Dismissing twice is a no-op;
// dismissing a confirmed pair fails with ErrAlreadyDecided.
func (s *Service) DismissSibling(ctx context.Context, suggestionID int64) (*core.ProjectSiblingSuggestion, error) {
	return s.decideSibling(ctx, suggestionID, core.SuggestionDismissed)
}

func (s *Service) decideSibling(ctx context.Context, suggestionID int64, target core.SuggestionStatus) (*core.ProjectSiblingSuggestion, error) {
	var out *core.ProjectSiblingSuggestion
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		sg, err := tx.SuggestionByID(suggestionID)
		if err != nil {
			return err
		}
		switch sg.Status {
		case target:
			// Repeating the same decision changes nothing.
		case core.SuggestionSuggested:
			now := s.now()
			sg.Status = target
			if target == core.SuggestionConfirmed {
				sg.ConfirmedTS = &now
			} else {
				sg.DismissedTS = &now
			}
			if err := tx.SaveSuggestion(sg); err != nil {
				return err
			}
		default:
			return core.ErrAlreadyDecided
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListSiblings returns suggestions touching the project, highest score
// first, or all suggestions when project is empty.
func (s *Service) ListSiblings(ctx context.Context, project string) ([]core.ProjectSiblingSuggestion, error) {
	var out []core.ProjectSiblingSuggestion
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var projectID int64
		if project != "" {
			p, err := tx.ProjectBySlug(project)
			if err != nil {
				return err
			}
			projectID = p.ID
		}
		var err error
		out, err = tx.ListSuggestions(projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
