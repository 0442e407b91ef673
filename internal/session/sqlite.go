package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file; use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}

	// Verify the connection works.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping database: %w", err)
	}

	// Create the sessions table if it does not exist.
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			target_url  TEXT NOT NULL,
			state_json  TEXT NOT NULL,
			progress    REAL DEFAULT 0,
			dbms        TEXT DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create table: %w", err)
	}

	// Create an index on target_url for fast lookups.
	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_sessions_target_url ON sessions(target_url);
	`
	if _, err := db.Exec(createIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create index: %w", err)
	}

	if err := initializeInjectionSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// injectionSchema creates the confirmed-injection-point table and the
// general-purpose key-value storage table, mirroring the two logical tables
// a durable session store must expose: injections (keyed by endpoint +
// parameter) and storage (keyed by type). Schema initialisation is
// idempotent — CREATE TABLE IF NOT EXISTS plus an explicit column-presence
// check below for columns added after the table's initial release.
const injectionSchema = `
CREATE TABLE IF NOT EXISTS injections (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	title          TEXT,
	attempts       INTEGER DEFAULT 0,
	payload        TEXT,
	vector         TEXT,
	backend        TEXT,
	parameter      TEXT NOT NULL,
	injection_type TEXT,
	payload_type   TEXT,
	endpoint       TEXT NOT NULL,
	param_type     TEXT,
	string         TEXT,
	not_string     TEXT,
	attack01       TEXT,
	timestamp      DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(endpoint, parameter)
);
CREATE TABLE IF NOT EXISTS storage (
	type   TEXT PRIMARY KEY,
	value  TEXT,
	length INTEGER DEFAULT 0
);
`

// initializeInjectionSchema runs injectionSchema and then migrates in the
// "cases" column on injections if an older schema version lacks it. This is
// the idempotent migration path: PRAGMA table_info is the portable way to
// ask SQLite whether a column exists before ALTER TABLE ADD COLUMN.
func initializeInjectionSchema(db *sql.DB) error {
	if _, err := db.Exec(injectionSchema); err != nil {
		return fmt.Errorf("session: create injection schema: %w", err)
	}

	rows, err := db.Query(`PRAGMA table_info(injections)`)
	if err != nil {
		return fmt.Errorf("session: inspect injections schema: %w", err)
	}
	hasCases := false
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("session: scan table_info row: %w", err)
		}
		if name == "cases" {
			hasCases = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("session: iterate table_info: %w", err)
	}
	rows.Close()

	if !hasCases {
		if _, err := db.Exec(`ALTER TABLE injections ADD COLUMN cases TEXT`); err != nil {
			return fmt.Errorf("session: migrate cases column: %w", err)
		}
	}

	return nil
}

// Save persists a ScanState to the database.
// If the state's ID is empty, a new UUID is generated and assigned.
func (s *SQLiteStore) Save(ctx context.Context, state *ScanState) error {
	if state.ID == "" {
		state.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	state.UpdatedAt = now
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}

	query := `
		INSERT INTO sessions (id, target_url, state_json, progress, dbms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_url = excluded.target_url,
			state_json = excluded.state_json,
			progress   = excluded.progress,
			dbms       = excluded.dbms,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		state.ID,
		state.TargetURL,
		string(stateJSON),
		state.Progress,
		state.DBMS,
		state.CreatedAt.Format(time.RFC3339),
		state.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("session: save state: %w", err)
	}

	return nil
}

// Load retrieves the most recently updated ScanState for the given target URL.
// Returns (nil, nil) if no session is found.
func (s *SQLiteStore) Load(ctx context.Context, targetURL string) (*ScanState, error) {
	query := `
		SELECT state_json FROM sessions
		WHERE target_url = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return s.loadOne(ctx, query, targetURL)
}

// LoadByID retrieves a ScanState by its unique ID.
// Returns (nil, nil) if no session is found.
func (s *SQLiteStore) LoadByID(ctx context.Context, id string) (*ScanState, error) {
	query := `SELECT state_json FROM sessions WHERE id = ?`
	return s.loadOne(ctx, query, id)
}

// loadOne executes a query that returns a single state_json column and
// deserializes it into a ScanState.
func (s *SQLiteStore) loadOne(ctx context.Context, query string, args ...interface{}) (*ScanState, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session: scan row: %w", err)
	}

	var state ScanState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("session: unmarshal state: %w", err)
	}

	return &state, nil
}

// List returns a lightweight summary of all stored sessions.
func (s *SQLiteStore) List(ctx context.Context) ([]*ScanSummary, error) {
	query := `SELECT id, target_url, progress, dbms, updated_at FROM sessions ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*ScanSummary
	for rows.Next() {
		var (
			summary   ScanSummary
			updatedAt string
		)
		if err := rows.Scan(&summary.ID, &summary.TargetURL, &summary.Progress, &summary.DBMS, &updatedAt); err != nil {
			return nil, fmt.Errorf("session: scan summary row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			// Fall back to SQLite default format if RFC3339 fails.
			t, err = time.Parse("2006-01-02 15:04:05", updatedAt)
			if err != nil {
				return nil, fmt.Errorf("session: parse updated_at %q: %w", updatedAt, err)
			}
		}
		summary.UpdatedAt = t
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate rows: %w", err)
	}

	return summaries, nil
}

// Delete removes a session by its ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertInjection persists a confirmed injection point keyed by
// (rec.Endpoint, rec.Parameter), replacing any prior record for the same
// key in full.
func (s *SQLiteStore) UpsertInjection(ctx context.Context, rec *InjectionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO injections
			(title, attempts, payload, vector, backend, parameter, injection_type,
			 payload_type, endpoint, param_type, string, not_string, attack01, cases, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint, parameter) DO UPDATE SET
			title          = excluded.title,
			attempts       = excluded.attempts,
			payload        = excluded.payload,
			vector         = excluded.vector,
			backend        = excluded.backend,
			injection_type = excluded.injection_type,
			payload_type   = excluded.payload_type,
			param_type     = excluded.param_type,
			string         = excluded.string,
			not_string     = excluded.not_string,
			attack01       = excluded.attack01,
			cases          = excluded.cases,
			timestamp      = excluded.timestamp
	`
	_, err := s.upsert(ctx, query,
		rec.Title, rec.Attempts, rec.Payload, rec.Vector, rec.Backend, rec.Parameter,
		rec.InjectionType, rec.PayloadType, rec.Endpoint, rec.ParamType,
		rec.String, rec.NotString, rec.Attack01, rec.Cases, rec.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("session: upsert injection: %w", err)
	}
	return nil
}

// FetchInjection retrieves a confirmed injection point by its (endpoint,
// parameter) key. Returns (nil, nil) if no record exists.
func (s *SQLiteStore) FetchInjection(ctx context.Context, endpoint, parameter string) (*InjectionRecord, error) {
	query := `
		SELECT title, attempts, payload, vector, backend, parameter, injection_type,
		       payload_type, endpoint, param_type, string, not_string, attack01, cases, timestamp
		FROM injections WHERE endpoint = ? AND parameter = ?
	`
	rows, err := s.fetchAll(ctx, query, endpoint, parameter)
	if err != nil {
		return nil, fmt.Errorf("session: fetch injection: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var (
		rec       InjectionRecord
		timestamp string
	)
	if err := rows.Scan(
		&rec.Title, &rec.Attempts, &rec.Payload, &rec.Vector, &rec.Backend, &rec.Parameter,
		&rec.InjectionType, &rec.PayloadType, &rec.Endpoint, &rec.ParamType,
		&rec.String, &rec.NotString, &rec.Attack01, &rec.Cases, &timestamp,
	); err != nil {
		return nil, fmt.Errorf("session: scan injection row: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		rec.Timestamp = t
	}

	return &rec, nil
}

// UpsertStorage persists (or replaces) an in-progress extraction's partial
// value and discovered length, keyed by rec.Type.
func (s *SQLiteStore) UpsertStorage(ctx context.Context, rec *StorageRecord) error {
	query := `
		INSERT INTO storage (type, value, length)
		VALUES (?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			value  = excluded.value,
			length = excluded.length
	`
	_, err := s.upsert(ctx, query, rec.Type, rec.Value, rec.Length)
	if err != nil {
		return fmt.Errorf("session: upsert storage: %w", err)
	}
	return nil
}

// FetchStorage retrieves a previously persisted extraction by its key.
// Returns (nil, nil) if no record exists.
func (s *SQLiteStore) FetchStorage(ctx context.Context, key string) (*StorageRecord, error) {
	query := `SELECT type, value, length FROM storage WHERE type = ?`
	rows, err := s.fetchAll(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("session: fetch storage: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var rec StorageRecord
	if err := rows.Scan(&rec.Type, &rec.Value, &rec.Length); err != nil {
		return nil, fmt.Errorf("session: scan storage row: %w", err)
	}

	return &rec, nil
}

// fetchAll runs a read query and returns the resulting rows for the caller
// to scan and close.
func (s *SQLiteStore) fetchAll(ctx context.Context, query string, params ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, params...)
}

// upsert runs a write query (typically an INSERT ... ON CONFLICT DO UPDATE)
// and returns the result.
func (s *SQLiteStore) upsert(ctx context.Context, query string, params ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, params...)
}

// executeScript runs a multi-statement DDL script, used for schema
// initialisation and migration.
func (s *SQLiteStore) executeScript(ddl string) error {
	_, err := s.db.Exec(ddl)
	return err
}

// Cleanup removes sessions whose updated_at is older than maxAge from now.
// It returns the number of deleted sessions.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)

	query := `DELETE FROM sessions WHERE updated_at < ?`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: cleanup sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: rows affected: %w", err)
	}

	return deleted, nil
}
