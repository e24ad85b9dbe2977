package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on sync_attempts(kind, entity_id)
const currentSchemaVersion = 1

// SQLiteStore is the durable local store.
// Uses SQLite with WAL mode for concurrent read access.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Store      = (*SQLiteStore)(nil)
	_ SyncLogger = (*SQLiteStore)(nil)
)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This is also what makes Update the single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// View runs fn in a read transaction.
func (s *SQLiteStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqliteTx{tx: tx})
}

// Update runs fn in a write transaction and commits if fn succeeds.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, ref ir.EntityRef) (ir.Entity, error) {
	var body string
	err := t.tx.QueryRowContext(ctx,
		`SELECT body FROM entities WHERE kind = ? AND id = ?`,
		string(ref.Kind), ref.ID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return decodeEntity(ref.Kind, body)
}

func (t *sqliteTx) List(ctx context.Context, kind ir.EntityKind) ([]ir.Entity, error) {
	return t.queryEntities(ctx, `
		SELECT kind, body FROM entities
		WHERE kind = ?
		ORDER BY id
	`, string(kind))
}

func (t *sqliteTx) Children(ctx context.Context, parent ir.EntityRef) ([]ir.Entity, error) {
	child, ok := ir.ChildKind(parent.Kind)
	if !ok {
		return nil, nil
	}
	return t.queryEntities(ctx, `
		SELECT kind, body FROM entities
		WHERE kind = ? AND parent_id = ?
		ORDER BY id
	`, string(child), parent.ID)
}

func (t *sqliteTx) Referrers(ctx context.Context, id string) ([]ir.Entity, error) {
	return t.queryEntities(ctx, `
		SELECT e.kind, e.body
		FROM entity_refs r
		JOIN entities e ON e.kind = r.kind AND e.id = r.id
		WHERE r.ref_id = ?
		ORDER BY e.kind, e.id
	`, id)
}

func (t *sqliteTx) Dirty(ctx context.Context) ([]ir.EntityRef, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT kind, id FROM entities
		WHERE needs_sync = 1
		ORDER BY kind, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query dirty: %w", err)
	}
	defer rows.Close()

	var refs []ir.EntityRef
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("scan dirty: %w", err)
		}
		refs = append(refs, ir.Ref(ir.EntityKind(kind), id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dirty: %w", err)
	}
	return refs, nil
}

func (t *sqliteTx) Put(ctx context.Context, e ir.Entity) error {
	ref := e.Ref()
	if ref.ID == "" {
		return fmt.Errorf("put %s: empty id", ref.Kind)
	}
	body, err := encodeEntity(e)
	if err != nil {
		return err
	}
	meta := e.Meta()

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entities (kind, id, parent_id, needs_sync, rev, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			needs_sync = excluded.needs_sync,
			rev = excluded.rev,
			body = excluded.body
	`,
		string(ref.Kind),
		ref.ID,
		e.ParentID(),
		meta.NeedsSync,
		meta.Rev,
		body,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", ref, err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM entity_refs WHERE kind = ? AND id = ?`,
		string(ref.Kind), ref.ID,
	); err != nil {
		return fmt.Errorf("put %s: clear refs: %w", ref, err)
	}
	for _, target := range e.References() {
		if target == "" {
			continue
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO entity_refs (kind, id, ref_id) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, string(ref.Kind), ref.ID, target); err != nil {
			return fmt.Errorf("put %s: index ref %s: %w", ref, target, err)
		}
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, ref ir.EntityRef) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`,
		string(ref.Kind), ref.ID,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (t *sqliteTx) queryEntities(ctx context.Context, query string, args ...any) ([]ir.Entity, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []ir.Entity
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e, err := decodeEntity(ir.EntityKind(kind), body)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// LogAttempt appends a sync attempt to the log.
func (s *SQLiteStore) LogAttempt(ctx context.Context, a SyncAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_attempts
		(attempt_id, kind, entity_id, op, rev, outcome, error, server_id, at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.AttemptID,
		string(a.Ref.Kind),
		a.Ref.ID,
		a.Op,
		a.Rev,
		a.Outcome,
		a.Error,
		a.ServerID,
		a.At.UTC().Format(time.RFC3339Nano),
		int64(a.Duration),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// Attempts returns logged attempts ordered by seq.
func (s *SQLiteStore) Attempts(ctx context.Context, ref ir.EntityRef, limit int) ([]SyncAttempt, error) {
	query := `
		SELECT seq, attempt_id, kind, entity_id, op, rev, outcome, error, server_id, at, duration_ns
		FROM sync_attempts
	`
	var args []any
	if !ref.IsZero() {
		query += ` WHERE kind = ? AND entity_id = ?`
		args = append(args, string(ref.Kind), ref.ID)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []SyncAttempt
	for rows.Next() {
		var (
			a        SyncAttempt
			kind, at string
			duration int64
		)
		if err := rows.Scan(&a.Seq, &a.AttemptID, &kind, &a.Ref.ID, &a.Op, &a.Rev,
			&a.Outcome, &a.Error, &a.ServerID, &at, &duration); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Ref.Kind = ir.EntityKind(kind)
		a.Duration = time.Duration(duration)
		if a.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse attempt time: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	// Newest-first for LIMIT; return oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes the sync log by entity for `opsync trace`.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_attempts_entity
		ON sync_attempts(kind, entity_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
