// Package history is a SQLite journal of publish attempts. It records
// outcomes only; drafts and pending jobs stay in memory and are lost
// on restart.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"postbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Entry is one publish attempt.
type Entry struct {
	ID         string
	UserID     int64
	Plan       string // "text", "single", "album"
	Items      int    // media items in the payload
	CaptionLen int
	Scheduled  bool // fired by the timer rather than the publish button
	Status     Status
	Error      string
	At         time.Time
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Journal struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &Journal{db: db, log: log}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO publish_log(id, at, user_id, plan, items, caption_len, scheduled, status, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UnixNano(), e.UserID, e.Plan, e.Items, e.CaptionLen,
		e.Scheduled, string(e.Status), nullStr(e.Error),
	)
	return err
}

// Recent returns the latest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, user_id, plan, items, caption_len, scheduled, status, err
		 FROM publish_log ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var errStr sql.NullString
		var status string
		if err := rows.Scan(&e.ID, &at, &e.UserID, &e.Plan, &e.Items, &e.CaptionLen, &e.Scheduled, &status, &errStr); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.Error = errStr.String
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention window and returns
// how many were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := j.db.ExecContext(ctx, `DELETE FROM publish_log WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.log.Info("publish log pruned", logx.Int64("removed", n))
	}
	return n, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
