package metrics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"riva/internal/intention"
	"riva/internal/logging"
)

// SQLiteSink persists session snapshots into a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

const metricsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	duration_ms INTEGER,
	llm_time_ms INTEGER,
	verification_time_ms INTEGER,
	execution_time_ms INTEGER,
	llm_calls_total INTEGER,
	llm_calls_decomposition INTEGER,
	llm_calls_action INTEGER,
	llm_calls_verification INTEGER,
	llm_calls_reflection INTEGER,
	decomposition_count INTEGER,
	max_depth_reached INTEGER,
	verifications_total INTEGER,
	verifications_high_risk INTEGER,
	verifications_medium_risk INTEGER,
	verifications_low_risk INTEGER,
	verifications_skipped INTEGER,
	layer_passes TEXT,
	layer_failures TEXT,
	retry_count INTEGER,
	failure_count INTEGER,
	success INTEGER,
	first_try_success INTEGER
);
`

// NewSQLiteSink opens (and migrates) the metrics database at the given path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MetricsDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MetricsDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	if _, err := db.Exec(metricsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate metrics schema: %w", err)
	}

	logging.Metrics("metrics sink ready at %s", path)
	return &SQLiteSink{db: db}, nil
}

// Record persists one immutable snapshot.
func (s *SQLiteSink) Record(snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	passes, err := json.Marshal(layerCounts(snapshot.LayerPasses))
	if err != nil {
		return fmt.Errorf("failed to marshal layer passes: %w", err)
	}
	failures, err := json.Marshal(layerCounts(snapshot.LayerFailures))
	if err != nil {
		return fmt.Errorf("failed to marshal layer failures: %w", err)
	}

	var completedAt interface{}
	if !snapshot.CompletedAt.IsZero() {
		completedAt = snapshot.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions (
			session_id, started_at, completed_at, duration_ms,
			llm_time_ms, verification_time_ms, execution_time_ms,
			llm_calls_total, llm_calls_decomposition, llm_calls_action,
			llm_calls_verification, llm_calls_reflection,
			decomposition_count, max_depth_reached,
			verifications_total, verifications_high_risk,
			verifications_medium_risk, verifications_low_risk,
			verifications_skipped,
			layer_passes, layer_failures,
			retry_count, failure_count, success, first_try_success
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.SessionID,
		snapshot.StartedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		completedAt,
		snapshot.DurationMS,
		snapshot.LLMTimeMS,
		snapshot.VerificationTimeMS,
		snapshot.ExecutionTimeMS,
		snapshot.LLMCallsTotal,
		snapshot.LLMCallsDecomposition,
		snapshot.LLMCallsAction,
		snapshot.LLMCallsVerification,
		snapshot.LLMCallsReflection,
		snapshot.DecompositionCount,
		snapshot.MaxDepthReached,
		snapshot.VerificationsTotal,
		snapshot.VerificationsHighRisk,
		snapshot.VerificationsMediumRisk,
		snapshot.VerificationsLowRisk,
		snapshot.VerificationsSkipped,
		string(passes),
		string(failures),
		snapshot.RetryCount,
		snapshot.FailureCount,
		boolToInt(snapshot.Success),
		boolToInt(snapshot.FirstTrySuccess),
	)
	if err != nil {
		logging.MetricsError("failed to record session %s: %v", snapshot.SessionID, err)
		return fmt.Errorf("failed to record session: %w", err)
	}

	logging.Metrics("recorded session %s (success=%v)", snapshot.SessionID, snapshot.Success)
	return nil
}

// LoadSession reads one persisted snapshot back, primarily for inspection
// tooling and tests.
func (s *SQLiteSink) LoadSession(sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT session_id, duration_ms, llm_calls_total, verifications_total,
		       verifications_skipped, layer_passes, layer_failures,
		       retry_count, failure_count, success, first_try_success
		FROM sessions WHERE session_id = ?`, sessionID)

	var snap Snapshot
	var passes, failures string
	var success, firstTry int
	if err := row.Scan(
		&snap.SessionID, &snap.DurationMS, &snap.LLMCallsTotal,
		&snap.VerificationsTotal, &snap.VerificationsSkipped,
		&passes, &failures, &snap.RetryCount, &snap.FailureCount,
		&success, &firstTry,
	); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	snap.Success = success == 1
	snap.FirstTrySuccess = firstTry == 1
	snap.LayerPasses = parseLayerCounts(passes)
	snap.LayerFailures = parseLayerCounts(failures)
	return &snap, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func layerCounts(m map[intention.Layer]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func parseLayerCounts(raw string) map[intention.Layer]int {
	var plain map[string]int
	if err := json.Unmarshal([]byte(raw), &plain); err != nil {
		return nil
	}
	out := make(map[intention.Layer]int, len(plain))
	for k, v := range plain {
		out[intention.Layer(k)] = v
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DiscardSink drops snapshots. Used when no metrics path is configured.
type DiscardSink struct{}

// Record implements Sink.
func (DiscardSink) Record(Snapshot) error { return nil }

// Close implements Sink.
func (DiscardSink) Close() error { return nil }
