package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

func (t *Tx) CreateMessage(m *core.Message) error {
	atts, err := core.EncodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	res, err := t.q.Exec(
		`INSERT INTO messages (project_id, sender_id, thread_id, subject, body_md,
		 importance, ack_required, created_ts, attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProjectID, m.SenderID, nullStr(m.ThreadID), m.Subject, m.BodyMD,
		string(m.Importance), boolInt(m.AckRequired), fmtTime(m.CreatedTS), atts,
	)
	if err != nil {
		return mapErr("insert message", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	return nil
}

const messageCols = `id, project_id, sender_id, thread_id, subject, body_md,
	importance, ack_required, created_ts, attachments`

func (t *Tx) MessageByID(id int64) (*core.Message, error) {
	return t.scanMessage(t.q.QueryRow(
		`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
}

func (t *Tx) AddRecipient(r *core.MessageRecipient) error {
	_, err := t.q.Exec(
		`INSERT INTO message_recipients (message_id, agent_id, kind, read_ts, ack_ts)
		 VALUES (?, ?, ?, ?, ?)`,
		r.MessageID, r.AgentID, string(r.Kind), fmtNullTime(r.ReadTS), fmtNullTime(r.AckTS),
	)
	return mapErr("insert recipient", err)
}

func (t *Tx) Recipients(messageID int64) ([]core.MessageRecipient, error) {
	rows, err := t.q.Query(
		`SELECT message_id, agent_id, kind, read_ts, ack_ts
		 FROM message_recipients WHERE message_id = ? ORDER BY agent_id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []core.MessageRecipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (t *Tx) Recipient(messageID, agentID int64) (*core.MessageRecipient, error) {
	return scanRecipient(t.q.QueryRow(
		`SELECT message_id, agent_id, kind, read_ts, ack_ts
		 FROM message_recipients WHERE message_id = ? AND agent_id = ?`, messageID, agentID))
}

// SetRecipientRead stamps read_ts once; rows already stamped are untouched.
func (t *Tx) SetRecipientRead(messageID, agentID int64, at time.Time) error {
	_, err := t.q.Exec(
		`UPDATE message_recipients SET read_ts = ?
		 WHERE message_id = ? AND agent_id = ? AND read_ts IS NULL`,
		fmtTime(at), messageID, agentID)
	return mapErr("set read", err)
}

// SetRecipientAck stamps ack_ts once; rows already stamped are untouched.
func (t *Tx) SetRecipientAck(messageID, agentID int64, at time.Time) error {
	_, err := t.q.Exec(
		`UPDATE message_recipients SET ack_ts = ?
		 WHERE message_id = ? AND agent_id = ? AND ack_ts IS NULL`,
		fmtTime(at), messageID, agentID)
	return mapErr("set ack", err)
}

func (t *Tx) Inbox(q storage.InboxQuery) ([]storage.InboxItem, error) {
	if len(q.AgentIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(q.AgentIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(q.AgentIDs)+1)
	for _, id := range q.AgentIDs {
		args = append(args, id)
	}

	query := `SELECT m.id, m.project_id, m.sender_id, m.thread_id, m.subject, m.body_md,
		 m.importance, m.ack_required, m.created_ts, m.attachments,
		 r.kind, r.read_ts, r.ack_ts, s.name, p.slug
		 FROM message_recipients r
		 JOIN messages m ON m.id = r.message_id
		 JOIN agents s ON s.id = m.sender_id
		 JOIN projects p ON p.id = m.project_id
		 WHERE r.agent_id IN (` + placeholders + `)`
	if q.UnreadOnly {
		query += ` AND r.read_ts IS NULL`
	}
	query += ` ORDER BY m.created_ts DESC, m.id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := t.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var out []storage.InboxItem
	for rows.Next() {
		var (
			item        storage.InboxItem
			threadID    sql.NullString
			importance  string
			ackRequired int64
			createdTS   string
			atts        string
			kind        string
			readTS      sql.NullString
			ackTS       sql.NullString
		)
		m := &item.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &threadID, &m.Subject, &m.BodyMD,
			&importance, &ackRequired, &createdTS, &atts,
			&kind, &readTS, &ackTS, &item.SenderName, &item.Project); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		m.ThreadID = threadID.String
		m.Importance = core.Importance(importance)
		m.AckRequired = ackRequired != 0
		if m.CreatedTS, err = parseTime(createdTS); err != nil {
			return nil, err
		}
		if m.Attachments, err = core.DecodeAttachments(atts); err != nil {
			return nil, err
		}
		item.Kind = core.RecipientKind(kind)
		if item.ReadTS, err = parseNullTime(readTS); err != nil {
			return nil, err
		}
		if item.AckTS, err = parseNullTime(ackTS); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ThreadMessages returns a thread in causal order. The root is matched by id
// when its thread_id is null, since a message without one roots its own
// thread.
func (t *Tx) ThreadMessages(projectID int64, threadKey string) ([]core.Message, error) {
	rows, err := t.q.Query(
		`SELECT `+messageCols+` FROM messages
		 WHERE project_id = ?
		   AND (thread_id = ? OR (thread_id IS NULL AND CAST(id AS TEXT) = ?))
		 ORDER BY created_ts, id`,
		projectID, threadKey, threadKey)
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := t.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (t *Tx) scanMessage(row rowScanner) (*core.Message, error) {
	var (
		m           core.Message
		threadID    sql.NullString
		importance  string
		ackRequired int64
		createdTS   string
		atts        string
	)
	if err := row.Scan(&m.ID, &m.ProjectID, &m.SenderID, &threadID, &m.Subject, &m.BodyMD,
		&importance, &ackRequired, &createdTS, &atts); err != nil {
		return nil, scanOne("scan message", err)
	}
	m.ThreadID = threadID.String
	m.Importance = core.Importance(importance)
	m.AckRequired = ackRequired != 0
	var err error
	if m.CreatedTS, err = parseTime(createdTS); err != nil {
		return nil, err
	}
	if m.Attachments, err = core.DecodeAttachments(atts); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanRecipient(row rowScanner) (*core.MessageRecipient, error) {
	var (
		r      core.MessageRecipient
		kind   string
		readTS sql.NullString
		ackTS  sql.NullString
	)
	if err := row.Scan(&r.MessageID, &r.AgentID, &kind, &readTS, &ackTS); err != nil {
		return nil, scanOne("scan recipient", err)
	}
	r.Kind = core.RecipientKind(kind)
	var err error
	if r.ReadTS, err = parseNullTime(readTS); err != nil {
		return nil, err
	}
	if r.AckTS, err = parseNullTime(ackTS); err != nil {
		return nil, err
	}
	return &r, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
