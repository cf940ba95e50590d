package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

const reservationCols = `id, project_id, agent_id, path_pattern, exclusive,
	reason, created_ts, expires_ts, released_ts`

func (t *Tx) CreateReservation(r *core.FileReservation) error {
	res, err := t.q.Exec(
		`INSERT INTO file_reservations (project_id, agent_id, path_pattern, exclusive,
		 reason, created_ts, expires_ts, released_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProjectID, r.AgentID, r.PathPattern, boolInt(r.Exclusive),
		r.Reason, fmtTime(r.CreatedTS), fmtTime(r.ExpiresTS), fmtNullTime(r.ReleasedTS),
	)
	if err != nil {
		return mapErr("insert reservation", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reservation id: %w", err)
	}
	return nil
}

func (t *Tx) ReservationByID(id int64) (*core.FileReservation, error) {
	return scanReservation(t.q.QueryRow(
		`SELECT `+reservationCols+` FROM file_reservations WHERE id = ?`, id))
}

// ActiveReservations returns unreleased, unexpired claims in the project.
// Expiry is applied lazily here; expired rows simply stop matching.
func (t *Tx) ActiveReservations(projectID int64, now time.Time) ([]core.FileReservation, error) {
	rows, err := t.q.Query(
		`SELECT `+reservationCols+` FROM file_reservations
		 WHERE project_id = ? AND released_ts IS NULL AND expires_ts > ?
		 ORDER BY id`,
		projectID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []core.FileReservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (t *Tx) ReleaseReservation(id int64, at time.Time) error {
	res, err := t.q.Exec(
		`UPDATE file_reservations SET released_ts = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return mapErr("release reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if n == 0 {
		return core.ErrAlreadyReleased
	}
	return nil
}

// PurgeReservations deletes dead rows (released or expired before Cutoff)
// whose owner is deregistered or idle since OwnerIdleSince, returning the
// deleted rows so the caller can emit expiry events.
func (t *Tx) PurgeReservations(f storage.PurgeFilter) ([]storage.PurgedReservation, error) {
	rows, err := t.q.Query(
		`SELECT r.id, r.project_id, r.agent_id, r.path_pattern, r.exclusive,
		 r.reason, r.created_ts, r.expires_ts, r.released_ts, p.slug, a.name
		 FROM file_reservations r
		 JOIN agents a ON a.id = r.agent_id
		 JOIN projects p ON p.id = r.project_id
		 WHERE (r.released_ts IS NOT NULL OR r.expires_ts <= ?)
		   AND (a.deregistered_ts IS NOT NULL OR a.last_active_ts < ?)`,
		fmtTime(f.Cutoff), fmtTime(f.OwnerIdleSince))
	if err != nil {
		return nil, fmt.Errorf("query purgeable: %w", err)
	}
	defer rows.Close()

	var victims []storage.PurgedReservation
	for rows.Next() {
		var (
			v         storage.PurgedReservation
			exclusive int64
			createdTS string
			expiresTS string
			released  sql.NullString
		)
		r := &v.FileReservation
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.AgentID, &r.PathPattern, &exclusive,
			&r.Reason, &createdTS, &expiresTS, &released, &v.ProjectSlug, &v.AgentName); err != nil {
			return nil, fmt.Errorf("scan purgeable: %w", err)
		}
		r.Exclusive = exclusive != 0
		if r.CreatedTS, err = parseTime(createdTS); err != nil {
			return nil, err
		}
		if r.ExpiresTS, err = parseTime(expiresTS); err != nil {
			return nil, err
		}
		if r.ReleasedTS, err = parseNullTime(released); err != nil {
			return nil, err
		}
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, v := range victims {
		if _, err := t.q.Exec(`DELETE FROM file_reservations WHERE id = ?`, v.ID); err != nil {
			return nil, mapErr("purge reservation", err)
		}
	}
	return victims, nil
}

func scanReservation(row rowScanner) (*core.FileReservation, error) {
	var (
		r         core.FileReservation
		exclusive int64
		createdTS string
		expiresTS string
		released  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.AgentID, &r.PathPattern, &exclusive,
		&r.Reason, &createdTS, &expiresTS, &released); err != nil {
		return nil, scanOne("scan reservation", err)
	}
	r.Exclusive = exclusive != 0
	var err error
	if r.CreatedTS, err = parseTime(createdTS); err != nil {
		return nil, err
	}
	if r.ExpiresTS, err = parseTime(expiresTS); err != nil {
		return nil, err
	}
	if r.ReleasedTS, err = parseNullTime(released); err != nil {
		return nil, err
	}
	return &r, nil
}
