package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/store"
)

// Store implements store.SessionStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.SessionStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL DEFAULT '',
		cursor INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		terminated INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the snapshot for state.ID in a single transaction.
func (s *Store) Save(ctx context.Context, state *domain.SessionState) (store.Token, error) {
	if state.ID == "" {
		state.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, dataset, cursor, turns, terminated, stop_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   dataset = excluded.dataset, cursor = excluded.cursor, turns = excluded.turns,
		   terminated = excluded.terminated, stop_reason = excluded.stop_reason,
		   updated_at = excluded.updated_at`,
		state.ID, state.Dataset, state.Cursor, state.Turns, state.Terminated, state.StopReason, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, state.ID); err != nil {
		return "", fmt.Errorf("clearing messages: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, session_id, seq, source, kind, content, exit_code, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, m := range state.Transcript {
		var exitCode sql.NullInt64
		if m.ExitCode != nil {
			exitCode = sql.NullInt64{Int64: int64(*m.ExitCode), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, m.ID, state.ID, i, string(m.Source), m.Kind.String(), m.Content, exitCode, m.Timestamp); err != nil {
			return "", fmt.Errorf("saving message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return store.Token(state.ID), nil
}

func (s *Store) Load(ctx context.Context, token store.Token) (*domain.SessionState, error) {
	state := &domain.SessionState{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, dataset, cursor, turns, terminated, stop_reason FROM sessions WHERE id = ?`, string(token),
	).Scan(&state.ID, &state.Dataset, &state.Cursor, &state.Turns, &state.Terminated, &state.StopReason)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, kind, content, exit_code, timestamp FROM messages WHERE session_id = ? ORDER BY seq`, state.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m        domain.Message
			source   string
			kind     string
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &source, &kind, &m.Content, &exitCode, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Source = domain.ParticipantID(source)
		if m.Kind, err = domain.ParseKind(kind); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			m.ExitCode = &code
		}
		state.Transcript = append(state.Transcript, m)
	}
	return state, rows.Err()
}

func (s *Store) Delete(ctx context.Context, token store.Token) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(token))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]store.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.dataset, s.turns, s.terminated, s.stop_reason, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Summary
	for rows.Next() {
		var sum store.Summary
		var id string
		if err := rows.Scan(&id, &sum.Dataset, &sum.Turns, &sum.Terminated, &sum.StopReason, &sum.Created, &sum.Modified, &sum.Messages); err != nil {
			return nil, err
		}
		sum.Token = store.Token(id)
		out = append(out, sum)
	}
	return out, rows.Err()
}
