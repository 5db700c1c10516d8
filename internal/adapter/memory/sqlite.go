package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"agora/internal/domain"
)

// Stored-length bounds for QA rows.
const (
	maxQuestionLen = 2000
	maxAnswerLen   = 4000
)

// Store persists QA records in SQLite. Every operation is best-effort:
// reads degrade to empty results and writes are dropped on persistent
// failure, after at most one reconnect attempt per call. The handle is
// guarded by a mutex; one Store serves one orchestrator instance.
type Store struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a Store backed by the SQLite file at path. Connection
// failures are logged, not returned: the store stays usable and retries
// on the next operation.
func Open(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	if err := s.connect(); err != nil {
		logger.Warn("memory store connect failed", "path", path, "error", err)
	}
	return s
}

// connect opens the database handle and provisions the schema.
// Idempotent and safe to run on every startup. Caller holds s.mu
// (or is the constructor).
func (s *Store) connect() error {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open memory db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_memory (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name  TEXT NOT NULL,
			memory_text TEXT,
			question    TEXT,
			answer      TEXT,
			conv_id     TEXT,
			timestamp   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.db = db
	return nil
}

// reconnect closes and recreates the handle exactly once. Returns whether
// the store is usable afterwards. Caller holds s.mu.
func (s *Store) reconnect() bool {
	if err := s.connect(); err != nil {
		s.logger.Warn("memory store reconnect failed", "error", err)
		return false
	}
	return true
}

// exec runs a statement with the single-reconnect retry policy.
// Failures are logged and swallowed.
func (s *Store) exec(query string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil && !s.reconnect() {
		return
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		s.logger.Warn("memory store exec failed", "error", err)
		if !s.reconnect() {
			return
		}
		if _, err := s.db.Exec(query, args...); err != nil {
			s.logger.Warn("memory store retry failed", "error", err)
		}
	}
}

// queryRecords runs a row query with the single-reconnect retry policy.
// On persistent failure it returns nil rather than an error.
func (s *Store) queryRecords(query string, args ...any) []domain.QARecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil && !s.reconnect() {
		return nil
	}
	records, err := scanRecords(s.db, query, args...)
	if err != nil {
		s.logger.Warn("memory store query failed", "error", err)
		if !s.reconnect() {
			return nil
		}
		records, err = scanRecords(s.db, query, args...)
		if err != nil {
			s.logger.Warn("memory store retry failed", "error", err)
			return nil
		}
	}
	return records
}

func scanRecords(db *sql.DB, query string, args ...any) ([]domain.QARecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.QARecord
	for rows.Next() {
		var rec domain.QARecord
		var question, answer, convID, ts sql.NullString
		if err := rows.Scan(&rec.ID, &rec.AgentName, &question, &answer, &convID, &ts); err != nil {
			return nil, err
		}
		rec.Question = question.String
		rec.Answer = answer.String
		rec.ConvID = convID.String
		rec.Timestamp = parseTimestamp(ts.String)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// parseTimestamp handles the formats SQLite emits for CURRENT_TIMESTAMP.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SaveQA inserts one QA row, truncating oversized fields. A row with both
// question and answer empty is silently skipped. The combined memory_text
// column is kept for backward compatibility with legacy readers.
func (s *Store) SaveQA(agentName, question, answer, convID string) {
	if question == "" && answer == "" {
		return
	}
	q := truncate(question, maxQuestionLen)
	a := truncate(answer, maxAnswerLen)
	combined := "Q: " + q + " A: " + a
	s.exec(
		"INSERT INTO agent_memory (agent_name, memory_text, question, answer, conv_id) VALUES (?, ?, ?, ?, ?)",
		agentName, combined, q, a, convID,
	)
}

// LoadRecentQA returns up to limit rows for agentName, newest first,
// restricted to rows with a question or answer. An empty agentName
// targets the group bucket.
func (s *Store) LoadRecentQA(agentName string, limit int) []domain.QARecord {
	key := agentName
	if key == "" {
		key = domain.GroupKey
	}
	return s.queryRecords(
		`SELECT id, agent_name, question, answer, conv_id, timestamp
		 FROM agent_memory
		 WHERE agent_name = ? AND (question IS NOT NULL OR answer IS NOT NULL)
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		key, limit,
	)
}

// FetchRecentRows returns up to limit full rows across all keys, newest first.
func (s *Store) FetchRecentRows(limit int) []domain.QARecord {
	return s.queryRecords(
		`SELECT id, agent_name, question, answer, conv_id, timestamp
		 FROM agent_memory ORDER BY timestamp DESC, id DESC LIMIT ?`,
		limit,
	)
}

// ClearMemory deletes all rows for one key (agent or group bucket).
func (s *Store) ClearMemory(agentName string) {
	s.exec("DELETE FROM agent_memory WHERE agent_name = ?", agentName)
}

// ClearAll deletes every row. Destructive; confirmation belongs at the
// caller's boundary.
func (s *Store) ClearAll() {
	s.exec("DELETE FROM agent_memory")
}

// IsConnected reports liveness without throwing.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// truncate bounds s to max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
