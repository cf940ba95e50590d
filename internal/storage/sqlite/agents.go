package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

const agentCols = `id, project_id, name, program, model, task_description,
	inception_ts, last_active_ts, attachments_policy, contact_policy, deregistered_ts`

func (t *Tx) CreateAgent(a *core.Agent) error {
	res, err := t.q.Exec(
		`INSERT INTO agents (project_id, name, program, model, task_description,
		 inception_ts, last_active_ts, attachments_policy, contact_policy, deregistered_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Name, a.Program, a.Model, a.TaskDescription,
		fmtTime(a.InceptionTS), fmtTime(a.LastActiveTS),
		a.AttachmentsPolicy, string(a.ContactPolicy), fmtNullTime(a.DeregisteredTS),
	)
	if err != nil {
		return mapErr("insert agent", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("agent id: %w", err)
	}
	return nil
}

// SaveAgent writes back every mutable agent column.
func (t *Tx) SaveAgent(a *core.Agent) error {
	res, err := t.q.Exec(
		`UPDATE agents SET program = ?, model = ?, task_description = ?,
		 last_active_ts = ?, attachments_policy = ?, contact_policy = ?, deregistered_ts = ?
		 WHERE id = ?`,
		a.Program, a.Model, a.TaskDescription,
		fmtTime(a.LastActiveTS), a.AttachmentsPolicy, string(a.ContactPolicy),
		fmtNullTime(a.DeregisteredTS), a.ID,
	)
	if err != nil {
		return mapErr("update agent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *Tx) AgentByID(id int64) (*core.Agent, error) {
	return t.scanAgent(t.q.QueryRow(
		`SELECT `+agentCols+` FROM agents WHERE id = ?`, id))
}

func (t *Tx) AgentByName(projectID int64, name string) (*core.Agent, error) {
	return t.scanAgent(t.q.QueryRow(
		`SELECT `+agentCols+` FROM agents WHERE project_id = ? AND name = ?`, projectID, name))
}

func (t *Tx) ListAgents(projectID int64, includeDeregistered bool) ([]core.Agent, error) {
	query := `SELECT ` + agentCols + ` FROM agents WHERE project_id = ?`
	if !includeDeregistered {
		query += ` AND deregistered_ts IS NULL`
	}
	query += ` ORDER BY name`

	rows, err := t.q.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []core.Agent
	for rows.Next() {
		a, err := t.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TouchAgent advances last_active_ts. Every agent action routes through
// here so liveness tracking stays uniform.
func (t *Tx) TouchAgent(id int64, at time.Time) error {
	res, err := t.q.Exec(`UPDATE agents SET last_active_ts = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return mapErr("touch agent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *Tx) scanAgent(row rowScanner) (*core.Agent, error) {
	var (
		a            core.Agent
		inception    string
		lastActive   string
		policy       string
		deregistered sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Program, &a.Model, &a.TaskDescription,
		&inception, &lastActive, &a.AttachmentsPolicy, &policy, &deregistered); err != nil {
		return nil, scanOne("scan agent", err)
	}
	var err error
	if a.InceptionTS, err = parseTime(inception); err != nil {
		return nil, err
	}
	if a.LastActiveTS, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	a.ContactPolicy = core.ContactPolicy(policy)
	if a.DeregisteredTS, err = parseNullTime(deregistered); err != nil {
		return nil, err
	}
	return &a, nil
}
