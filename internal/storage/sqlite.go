package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Channels() ChannelRepo       { return &sqlDocRepo[notify.Channel]{s: s, table: "channels", kind: "channel"} }
func (s *sqliteStore) Templates() TemplateRepo     { return &sqlDocRepo[notify.Template]{s: s, table: "templates", kind: "template"} }
func (s *sqliteStore) Rules() RuleRepo             { return &sqlRules{sqlDocRepo[notify.Rule]{s: s, table: "rules", kind: "rule"}} }
func (s *sqliteStore) Logs() LogRepo               { return &sqlLogs{s: s} }
func (s *sqliteStore) Preferences() PreferenceRepo { return &sqlPrefs{s: s} }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- generic JSON-document repo (channels/templates/rules) ----

// docID extracts the id field from a decoded document.
func docID(v any) string {
	switch x := v.(type) {
	case *notify.Channel:
		return x.ID
	case *notify.Template:
		return x.ID
	case *notify.Rule:
		return x.ID
	}
	return ""
}

type sqlDocRepo[T any] struct {
	s     *sqliteStore
	table string
	kind  string
}

func (r *sqlDocRepo[T]) List(ctx context.Context) ([]*T, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT doc FROM `+r.table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("%s decode: %w", r.kind, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *sqlDocRepo[T]) Get(ctx context.Context, id string) (*T, error) {
	var doc string
	err := r.s.db.QueryRowContext(ctx, `SELECT doc FROM `+r.table+` WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", r.kind, id, notify.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return nil, fmt.Errorf("%s decode: %w", r.kind, err)
	}
	return v, nil
}

func (r *sqlDocRepo[T]) Create(ctx context.Context, v *T) error {
	id := docID(v)
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx, `INSERT INTO `+r.table+`(id, doc) VALUES(?,?)`, id, string(b))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("%s %q: %w", r.kind, id, notify.ErrDuplicate)
	}
	return err
}

func (r *sqlDocRepo[T]) Update(ctx context.Context, v *T) error {
	id := docID(v)
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE `+r.table+` SET doc = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %q: %w", r.kind, id, notify.ErrNotFound)
	}
	return nil
}

func (r *sqlDocRepo[T]) Delete(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %q: %w", r.kind, id, notify.ErrNotFound)
	}
	return nil
}

func (r *sqlDocRepo[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+r.table).Scan(&n)
	return n, err
}

// ---- rules (adds RecordTrigger) ----

type sqlRules struct {
	sqlDocRepo[notify.Rule]
}

func (r *sqlRules) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM rules WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %q: %w", id, notify.ErrNotFound)
	}
	if err != nil {
		return err
	}
	var rule notify.Rule
	if err := json.Unmarshal([]byte(doc), &rule); err != nil {
		return fmt.Errorf("rule decode: %w", err)
	}
	rule.TriggerCount++
	fired := at
	rule.LastTriggered = &fired
	rule.UpdatedAt = at

	b, err := json.Marshal(&rule)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rules SET doc = ? WHERE id = ?`, string(b), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- preferences ----

type sqlPrefs struct{ s *sqliteStore }

func (r *sqlPrefs) Get(ctx context.Context, userID string) (*notify.Preference, error) {
	var doc string
	err := r.s.db.QueryRowContext(ctx, `SELECT doc FROM preferences WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preference for %q: %w", userID, notify.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p notify.Preference
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("preference decode: %w", err)
	}
	return &p, nil
}

func (r *sqlPrefs) Put(ctx context.Context, p *notify.Preference) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO preferences(user_id, doc) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET doc=excluded.doc`,
		p.UserID, string(b))
	return err
}

// ---- logs ----

type sqlLogs struct{ s *sqliteStore }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (r *sqlLogs) Append(ctx context.Context, l *notify.NotificationLog) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO notification_logs(id, created_at, status, priority, channel, rule_id, sent_at, last_escalated_at, doc)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		l.ID, l.CreatedAt.UnixMilli(), string(l.Status), string(l.Priority), l.Channel,
		nullStr(l.RuleID), nullMillis(l.SentAt), nullMillis(l.LastEscalatedAt), string(b))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("log %q: %w", l.ID, notify.ErrDuplicate)
	}
	return err
}

func (r *sqlLogs) Get(ctx context.Context, id string) (*notify.NotificationLog, error) {
	var doc string
	err := r.s.db.QueryRowContext(ctx, `SELECT doc FROM notification_logs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeLog(doc)
}

func (r *sqlLogs) List(ctx context.Context, q LogQuery) ([]*notify.NotificationLog, error) {
	var (
		where []string
		args  []any
	)
	if len(q.Statuses) > 0 {
		ph := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if len(q.Priorities) > 0 {
		ph := make([]string, len(q.Priorities))
		for i, p := range q.Priorities {
			ph[i] = "?"
			args = append(args, string(p))
		}
		where = append(where, "priority IN ("+strings.Join(ph, ",")+")")
	}
	if q.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, q.Channel)
	}
	if q.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.Until.UnixMilli())
	}
	if q.Unacknowledged {
		where = append(where, "status != ?")
		args = append(args, string(notify.StatusAcknowledged))
	}

	query := `SELECT doc FROM notification_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.NotificationLog
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		l, err := decodeLog(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *sqlLogs) Count(ctx context.Context) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_logs`).Scan(&n)
	return n, err
}

func (r *sqlLogs) SetStatus(ctx context.Context, id string, to notify.Status, at time.Time, errMsg string, retryCount int) (*notify.NotificationLog, error) {
	var out *notify.NotificationLog
	err := r.inTx(ctx, id, func(l *notify.NotificationLog) error {
		if !notify.CanTransition(l.Status, to) {
			return fmt.Errorf("log %q: transition %s -> %s: %w", id, l.Status, to, notify.ErrValidation)
		}
		applyTransition(l, to, at, errMsg, retryCount)
		out = l
		return nil
	})
	return out, err
}

func (r *sqlLogs) Acknowledge(ctx context.Context, id, by string, at time.Time) (*notify.NotificationLog, bool, error) {
	var (
		out     *notify.NotificationLog
		applied bool
	)
	err := r.inTx(ctx, id, func(l *notify.NotificationLog) error {
		if l.Status == notify.StatusAcknowledged {
			out = l
			return errNoWrite
		}
		if !notify.CanTransition(l.Status, notify.StatusAcknowledged) {
			return fmt.Errorf("log %q: acknowledge from %s: %w", id, l.Status, notify.ErrValidation)
		}
		l.Status = notify.StatusAcknowledged
		acked := at
		l.AcknowledgedAt = &acked
		l.AcknowledgedBy = by
		out = l
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (r *sqlLogs) MarkEscalated(ctx context.Context, id string, at time.Time, window time.Duration) (bool, error) {
	var marked bool
	err := r.inTx(ctx, id, func(l *notify.NotificationLog) error {
		if l.LastEscalatedAt != nil && at.Sub(*l.LastEscalatedAt) < window {
			return errNoWrite
		}
		esc := at
		l.LastEscalatedAt = &esc
		marked = true
		return nil
	})
	return marked, err
}

// errNoWrite aborts inTx without writing and without surfacing an error.
var errNoWrite = errors.New("no write")

// inTx runs a read-modify-write cycle on one log row inside a transaction.
// mutate may return errNoWrite to skip the write (treated as success).
func (r *sqlLogs) inTx(ctx context.Context, id string, mutate func(*notify.NotificationLog) error) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM notification_logs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	if err != nil {
		return err
	}
	l, err := decodeLog(doc)
	if err != nil {
		return err
	}

	if err := mutate(l); err != nil {
		if errors.Is(err, errNoWrite) {
			return tx.Commit()
		}
		return err
	}

	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE notification_logs SET status = ?, sent_at = ?, last_escalated_at = ?, doc = ? WHERE id = ?`,
		string(l.Status), nullMillis(l.SentAt), nullMillis(l.LastEscalatedAt), string(b), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func decodeLog(doc string) (*notify.NotificationLog, error) {
	var l notify.NotificationLog
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("log decode: %w", err)
	}
	return &l, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
