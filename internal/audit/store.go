// Package audit keeps a local append-only log of permission decisions in
// SQLite. Writes are asynchronous so the check path never waits on disk.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	permission_type TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	cached INTEGER NOT NULL,
	matched_rules TEXT,
	latency_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_decision_actor ON decision_log(actor_id);
CREATE INDEX IF NOT EXISTS idx_decision_resource ON decision_log(resource_id);
CREATE INDEX IF NOT EXISTS idx_decision_timestamp ON decision_log(timestamp);
`

// Entry is one recorded permission decision.
type Entry struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	ActorID        string `json:"actor_id"`
	ActorType      string `json:"actor_type"`
	ResourceID     string `json:"resource_id"`
	PermissionType string `json:"permission_type"`
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason"`
	Cached         bool   `json:"cached"`
	MatchedRules   string `json:"matched_rules,omitempty"`
	LatencyMs      int64  `json:"latency_ms"`
}

// Store manages the SQLite decision log.
type Store struct {
	db     *sql.DB
	writes chan Entry
	done   chan struct{}
	logger *slog.Logger
}

// NewStore opens (or creates) the decision database. retentionDays > 0
// purges entries older than that many days at open.
func NewStore(dbPath string, logger *slog.Logger, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening decision db: %w", err)
	}

	// WAL keeps concurrent CLI reads from blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339)
		if _, err := db.Exec("DELETE FROM decision_log WHERE timestamp < ?", cutoff); err != nil {
			logger.Warn("purging old decisions failed", "error", err)
		}
	}

	s := &Store{
		db:     db,
		writes: make(chan Entry, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.writeLoop()
	return s, nil
}

// Record enqueues a decision for async writing. A full buffer drops the
// entry rather than stalling a permission check.
func (s *Store) Record(entry Entry) {
	select {
	case s.writes <- entry:
	default:
		s.logger.Warn("decision log buffer full, dropping entry", "id", entry.ID)
	}
}

// QueryOpts holds filters for decision log queries.
type QueryOpts struct {
	ActorID    string
	ResourceID string
	DeniedOnly bool
	Since      string
	Limit      int
}

// Query returns decisions matching the given filters, newest first.
func (s *Store) Query(opts QueryOpts) ([]Entry, error) {
	query := "SELECT id, timestamp, actor_id, actor_type, resource_id, permission_type, allowed, reason, cached, matched_rules, latency_ms FROM decision_log WHERE 1=1"
	var args []any

	if opts.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, opts.ActorID)
	}
	if opts.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, opts.ResourceID)
	}
	if opts.DeniedOnly {
		query += " AND allowed = 0"
	}
	if opts.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decision log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var rules sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorType, &e.ResourceID,
			&e.PermissionType, &e.Allowed, &e.Reason, &e.Cached, &rules, &e.LatencyMs); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.MatchedRules = rules.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for entry := range s.writes {
		_, err := s.db.Exec(
			`INSERT INTO decision_log (id, timestamp, actor_id, actor_type, resource_id, permission_type, allowed, reason, cached, matched_rules, latency_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Timestamp, entry.ActorID, entry.ActorType, entry.ResourceID,
			entry.PermissionType, entry.Allowed, entry.Reason, entry.Cached,
			entry.MatchedRules, entry.LatencyMs,
		)
		if err != nil {
			s.logger.Error("decision write failed", "id", entry.ID, "error", err)
		}
	}
}
