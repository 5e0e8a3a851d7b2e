// Package memory is the persistent agent memory: task history, learned
// knowledge, and conversation transcripts in a single SQLite database shared
// with the managed agent processes.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// StatusCompleted and StatusFailed are the task statuses the store reasons
// about; other statuses pass through untouched.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task is one task_history record.
type Task struct {
	ID          string
	AgentID     string
	Type        string
	Description string
	Status      string
	StartTime   time.Time
	EndTime     time.Time
	Duration    float64 // seconds
	Result      map[string]any
	Metadata    map[string]any
}

// HistoryEntry is a completed task retrieved for learning, fastest first.
type HistoryEntry struct {
	Description string
	Result      map[string]any
	Duration    float64
}

// Performance aggregates an agent's recent task outcomes.
type Performance struct {
	TotalTasks  int
	SuccessRate float64
	AvgDuration float64
}

// Store wraps the persistent memory database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and if necessary creates) the memory database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_history (
		task_id TEXT PRIMARY KEY,
		agent_id TEXT,
		task_type TEXT,
		description TEXT,
		status TEXT,
		start_time TEXT,
		end_time TEXT,
		duration REAL,
		result JSON,
		metadata JSON
	);
	CREATE TABLE IF NOT EXISTS knowledge_base (
		key TEXT PRIMARY KEY,
		value JSON,
		category TEXT,
		confidence REAL,
		source TEXT,
		updated_at TEXT
	);
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		role TEXT,
		content TEXT,
		timestamp TEXT,
		metadata JSON
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StoreTask inserts or replaces a task record.
func (s *Store) StoreTask(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := json.Marshal(orEmpty(t.Result))
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	metadata, err := json.Marshal(orEmpty(t.Metadata))
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_history
		(task_id, agent_id, task_type, description, status, start_time, end_time, duration, result, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.Type, t.Description, t.Status,
		t.StartTime.Format(time.RFC3339), t.EndTime.Format(time.RFC3339),
		t.Duration, result, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// History returns up to limit completed tasks of the given type, ordered by
// duration ascending so callers learn from the fastest runs first.
func (s *Store) History(ctx context.Context, taskType string, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT description, result, duration
		FROM task_history
		WHERE task_type = ? AND status = ?
		ORDER BY duration ASC
		LIMIT ?`,
		taskType, StatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var raw []byte
		if err := rows.Scan(&e.Description, &raw, &e.Duration); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Result); err != nil {
				return nil, fmt.Errorf("unmarshal task result: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// StoreKnowledge inserts or replaces a knowledge entry under the given category.
func (s *Store) StoreKnowledge(ctx context.Context, key string, value any, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal knowledge value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO knowledge_base
		(key, value, category, confidence, source, updated_at)
		VALUES (?, ?, ?, 1.0, 'learning', ?)`,
		key, raw, category, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert knowledge: %w", err)
	}
	return nil
}

// Knowledge retrieves a knowledge entry into out (a JSON-unmarshal target).
// Returns false when the key is unknown.
func (s *Store) Knowledge(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM knowledge_base WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query knowledge: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal knowledge value: %w", err)
	}
	return true, nil
}

// AgentPerformance aggregates the agent's tasks started inside the window.
func (s *Store) AgentPerformance(ctx context.Context, agentID string, window time.Duration) (Performance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := time.Now().Add(-window).Format(time.RFC3339)

	var total, successful sql.NullInt64
	var avgDuration sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			AVG(duration)
		FROM task_history
		WHERE agent_id = ? AND start_time > ?`,
		StatusCompleted, agentID, since,
	).Scan(&total, &successful, &avgDuration)
	if err != nil {
		return Performance{}, fmt.Errorf("query agent performance: %w", err)
	}

	p := Performance{
		TotalTasks:  int(total.Int64),
		AvgDuration: avgDuration.Float64,
	}
	if p.TotalTasks > 0 {
		p.SuccessRate = float64(successful.Int64) / float64(p.TotalTasks)
	}
	return p, nil
}

// AppendConversation records one message in a session transcript.
func (s *Store) AppendConversation(ctx context.Context, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, role, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, '{}')`,
		sessionID, role, content, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert conversation message: %w", err)
	}
	return nil
}

// Purge deletes tasks started before the cutoff, keeping failed tasks for
// post-mortems regardless of age. Returns the number of rows removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM task_history WHERE start_time < ? AND status != ?",
		olderThan.Format(time.RFC3339), StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("purge task history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged rows: %w", err)
	}
	return n, nil
}

// Optimize compacts the database and refreshes the query planner statistics.
func (s *Store) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum memory database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze memory database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
