package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/mistakeknot/interlock/internal/core"
)

const linkCols = `id, a_project_id, a_agent_id, b_project_id, b_agent_id,
	status, reason, created_ts, updated_ts, expires_ts`

func (t *Tx) CreateLink(l *core.AgentLink) error {
	res, err := t.q.Exec(
		`INSERT INTO agent_links (a_project_id, a_agent_id, b_project_id, b_agent_id,
		 status, reason, created_ts, updated_ts, expires_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.AProjectID, l.AAgentID, l.BProjectID, l.BAgentID,
		string(l.Status), l.Reason, fmtTime(l.CreatedTS), fmtTime(l.UpdatedTS),
		fmtNullTime(l.ExpiresTS),
	)
	if err != nil {
		return mapErr("insert link", err)
	}
	l.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("link id: %w", err)
	}
	return nil
}

func (t *Tx) LinkByID(id int64) (*core.AgentLink, error) {
	return scanLink(t.q.QueryRow(
		`SELECT `+linkCols+` FROM agent_links WHERE id = ?`, id))
}

// LinkByEndpoints looks up the one link in the exact direction a -> b. The
// reverse direction is a separate record.
func (t *Tx) LinkByEndpoints(aProjectID, aAgentID, bProjectID, bAgentID int64) (*core.AgentLink, error) {
	return scanLink(t.q.QueryRow(
		`SELECT `+linkCols+` FROM agent_links
		 WHERE a_project_id = ? AND a_agent_id = ? AND b_project_id = ? AND b_agent_id = ?`,
		aProjectID, aAgentID, bProjectID, bAgentID))
}

func (t *Tx) SaveLink(l *core.AgentLink) error {
	res, err := t.q.Exec(
		`UPDATE agent_links SET status = ?, reason = ?, updated_ts = ?, expires_ts = ?
		 WHERE id = ?`,
		string(l.Status), l.Reason, fmtTime(l.UpdatedTS), fmtNullTime(l.ExpiresTS), l.ID)
	if err != nil {
		return mapErr("update link", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListLinksForAgent returns links where the agent sits on either end.
func (t *Tx) ListLinksForAgent(agentID int64) ([]core.AgentLink, error) {
	rows, err := t.q.Query(
		`SELECT `+linkCols+` FROM agent_links
		 WHERE a_agent_id = ? OR b_agent_id = ?
		 ORDER BY id`, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []core.AgentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanLink(row rowScanner) (*core.AgentLink, error) {
	var (
		l         core.AgentLink
		status    string
		createdTS string
		updatedTS string
		expires   sql.NullString
	)
	if err := row.Scan(&l.ID, &l.AProjectID, &l.AAgentID, &l.BProjectID, &l.BAgentID,
		&status, &l.Reason, &createdTS, &updatedTS, &expires); err != nil {
		return nil, scanOne("scan link", err)
	}
	l.Status = core.LinkStatus(status)
	var err error
	if l.CreatedTS, err = parseTime(createdTS); err != nil {
		return nil, err
	}
	if l.UpdatedTS, err = parseTime(updatedTS); err != nil {
		return nil, err
	}
	if l.ExpiresTS, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	return &l, nil
}

const suggestionCols = `id, project_a_id, project_b_id, score, status,
	rationale, created_ts, evaluated_ts, confirmed_ts, dismissed_ts`

func (t *Tx) CreateSuggestion(s *core.ProjectSiblingSuggestion) error {
	res, err := t.q.Exec(
		`INSERT INTO project_sibling_suggestions (project_a_id, project_b_id, score,
		 status, rationale, created_ts, evaluated_ts, confirmed_ts, dismissed_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ProjectAID, s.ProjectBID, s.Score, string(s.Status), s.Rationale,
		fmtTime(s.CreatedTS), fmtTime(s.EvaluatedTS),
		fmtNullTime(s.ConfirmedTS), fmtNullTime(s.DismissedTS),
	)
	if err != nil {
		return mapErr("insert suggestion", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("suggestion id: %w", err)
	}
	return nil
}

func (t *Tx) SuggestionByID(id int64) (*core.ProjectSiblingSuggestion, error) {
	return scanSuggestion(t.q.QueryRow(
		`SELECT `+suggestionCols+` FROM project_sibling_suggestions WHERE id = ?`, id))
}

// SuggestionByPair expects the pair already normalized (a <= b).
func (t *Tx) SuggestionByPair(projectAID, projectBID int64) (*core.ProjectSiblingSuggestion, error) {
	return scanSuggestion(t.q.QueryRow(
		`SELECT `+suggestionCols+` FROM project_sibling_suggestions
		 WHERE project_a_id = ? AND project_b_id = ?`, projectAID, projectBID))
}

func (t *Tx) SaveSuggestion(s *core.ProjectSiblingSuggestion) error {
	res, err := t.q.Exec(
		`UPDATE project_sibling_suggestions SET score = ?, status = ?, rationale = ?,
		 evaluated_ts = ?, confirmed_ts = ?, dismissed_ts = ?
		 WHERE id = ?`,
		s.Score, string(s.Status), s.Rationale, fmtTime(s.EvaluatedTS),
		fmtNullTime(s.ConfirmedTS), fmtNullTime(s.DismissedTS), s.ID)
	if err != nil {
		return mapErr("update suggestion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update suggestion: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListSuggestions returns suggestions touching the project, or all of them
// when projectID is zero.
func (t *Tx) ListSuggestions(projectID int64) ([]core.ProjectSiblingSuggestion, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if projectID == 0 {
		rows, err = t.q.Query(
			`SELECT ` + suggestionCols + ` FROM project_sibling_suggestions ORDER BY score DESC, id`)
	} else {
		rows, err = t.q.Query(
			`SELECT `+suggestionCols+` FROM project_sibling_suggestions
			 WHERE project_a_id = ? OR project_b_id = ?
			 ORDER BY score DESC, id`, projectID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	var out []core.ProjectSiblingSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSuggestion(row rowScanner) (*core.ProjectSiblingSuggestion, error) {
	var (
		s           core.ProjectSiblingSuggestion
		status      string
		createdTS   string
		evaluatedTS string
		confirmed   sql.NullString
		dismissed   sql.NullString
	)
	if err := row.Scan(&s.ID, &s.ProjectAID, &s.ProjectBID, &s.Score, &status,
		&s.Rationale, &createdTS, &evaluatedTS, &confirmed, &dismissed); err != nil {
		return nil, scanOne("scan suggestion", err)
	}
	s.Status = core.SuggestionStatus(status)
	var err error
	if s.CreatedTS, err = parseTime(createdTS); err != nil {
		return nil, err
	}
	if s.EvaluatedTS, err = parseTime(evaluatedTS); err != nil {
		return nil, err
	}
	if s.ConfirmedTS, err = parseNullTime(confirmed); err != nil {
		return nil, err
	}
	if s.DismissedTS, err = parseNullTime(dismissed); err != nil {
		return nil, err
	}
	return &s, nil
}
