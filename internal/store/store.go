package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS reasoning_traces (
	run_id           TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	signal_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	approved         INTEGER NOT NULL DEFAULT 0,
	auto_executed    INTEGER NOT NULL DEFAULT 0,
	draft_id         TEXT,
	review_reason    TEXT,
	steps_json       TEXT NOT NULL,
	errors_json      TEXT NOT NULL,
	final_state_json TEXT NOT NULL,
	duration_ms      INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_user ON reasoning_traces(user_id, created_at);

CREATE TABLE IF NOT EXISTS cognitive_limits (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	limit_type       TEXT NOT NULL,
	description      TEXT NOT NULL,
	severity         TEXT NOT NULL,
	evidence_json    TEXT,
	suggested_remedy TEXT,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS improvements (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	improvement_type TEXT NOT NULL,
	target           TEXT NOT NULL,
	current_state    TEXT,
	proposed_change  TEXT NOT NULL,
	expected_impact  TEXT,
	risk             TEXT,
	status           TEXT NOT NULL DEFAULT 'proposed',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	draft_id      TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	intent_id     TEXT,
	draft_type    TEXT NOT NULL,
	title         TEXT NOT NULL,
	content       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	status        TEXT NOT NULL,
	review_reason TEXT,
	executed_at   TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drafts_user ON drafts(user_id, created_at);

CREATE TABLE IF NOT EXISTS constraint_violations (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	draft_id        TEXT,
	constraint_text TEXT NOT NULL,
	note            TEXT,
	created_at      TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct

// Store is the SQLite-backed record store for runs, drafts and proposals.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that keep their own tables
// (calibration, usercontext).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region insert-trace

// InsertTrace writes one reasoning trace row.
func (s *Store) InsertTrace(ctx context.Context, rec TraceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reasoning_traces
		 (run_id, user_id, signal_id, status, approved, auto_executed, draft_id, review_reason,
		  steps_json, errors_json, final_state_json, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.UserID, rec.SignalID, rec.Status,
		boolInt(rec.Approved), boolInt(rec.AutoExecuted),
		nullIfEmpty(rec.DraftID), nullIfEmpty(rec.ReviewReason),
		rec.StepsJSON, rec.ErrorsJSON, rec.FinalStateJSON,
		rec.DurationMs, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trace %s: %w", rec.RunID, err)
	}
	return nil
}

// #endregion insert-trace

// #region get-trace

const traceColumns = `run_id, user_id, signal_id, status, approved, auto_executed, draft_id, review_reason,
	steps_json, errors_json, final_state_json, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (TraceRecord, error) {
	var rec TraceRecord
	var approved, autoExecuted int
	var draftID, reviewReason sql.NullString
	var createdStr string
	err := row.Scan(&rec.RunID, &rec.UserID, &rec.SignalID, &rec.Status, &approved, &autoExecuted,
		&draftID, &reviewReason, &rec.StepsJSON, &rec.ErrorsJSON, &rec.FinalStateJSON,
		&rec.DurationMs, &createdStr)
	if err != nil {
		return TraceRecord{}, err
	}
	rec.Approved = approved == 1
	rec.AutoExecuted = autoExecuted == 1
	rec.DraftID = draftID.String
	rec.ReviewReason = reviewReason.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// GetTrace retrieves one trace by run ID.
func (s *Store) GetTrace(ctx context.Context, runID string) (TraceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+traceColumns+` FROM reasoning_traces WHERE run_id = ?`, runID)
	rec, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TraceRecord{}, fmt.Errorf("trace %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return TraceRecord{}, fmt.Errorf("get trace %s: %w", runID, err)
	}
	return rec, nil
}

// ListTraces returns the most recent traces, newest first.
func (s *Store) ListTraces(ctx context.Context, limit int) ([]TraceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM reasoning_traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var records []TraceRecord
	for rows.Next() {
		rec, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion get-trace

// #region insert-cognitive-limit

// InsertCognitiveLimit writes one cognitive limit row.
func (s *Store) InsertCognitiveLimit(ctx context.Context, rec CognitiveLimitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	evidence, err := json.Marshal(rec.Limit.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cognitive_limits
		 (id, run_id, user_id, limit_type, description, severity, evidence_json, suggested_remedy, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.UserID, string(rec.Limit.Type), rec.Limit.Description,
		string(rec.Limit.Severity), string(evidence), nullIfEmpty(rec.Limit.SuggestedRemedy),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert cognitive limit: %w", err)
	}
	return nil
}

// #endregion insert-cognitive-limit

// #region insert-improvement

// InsertImprovement writes one improvement proposal row.
func (s *Store) InsertImprovement(ctx context.Context, rec ImprovementRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = "proposed"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	imp := rec.Improvement
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO improvements
		 (id, run_id, user_id, improvement_type, target, current_state, proposed_change, expected_impact, risk, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.UserID, string(imp.Type), imp.Target,
		nullIfEmpty(imp.CurrentState), imp.ProposedChange, nullIfEmpty(imp.ExpectedImpact),
		nullIfEmpty(imp.Risk), rec.Status, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert improvement: %w", err)
	}
	return nil
}

// CountImprovements returns the number of improvement rows with the given status.
func (s *Store) CountImprovements(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM improvements WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count improvements: %w", err)
	}
	return n, nil
}

// #endregion insert-improvement

// #region drafts

// SaveDraft inserts or replaces a draft row, keeping the original created_at.
func (s *Store) SaveDraft(ctx context.Context, rec DraftRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	d := rec.Draft
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts
		 (draft_id, run_id, user_id, intent_id, draft_type, title, content, confidence, status,
		  review_reason, executed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(draft_id) DO UPDATE SET
		  status = excluded.status,
		  review_reason = excluded.review_reason,
		  executed_at = excluded.executed_at,
		  title = excluded.title,
		  content = excluded.content,
		  confidence = excluded.confidence,
		  updated_at = excluded.updated_at`,
		d.ID, rec.RunID, rec.UserID, nullIfEmpty(d.IntentID), d.DraftType, d.Title, d.Content,
		d.Confidence, string(d.Status), nullIfEmpty(rec.ReviewReason), formatTimePtr(rec.ExecutedAt),
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save draft %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDraftStatus moves a draft to a new status. executedAt may be nil.
func (s *Store) UpdateDraftStatus(ctx context.Context, draftID string, status state.DraftStatus, executedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, executed_at = COALESCE(?, executed_at), updated_at = ? WHERE draft_id = ?`,
		string(status), formatTimePtr(executedAt), time.Now().UTC().Format(time.RFC3339Nano), draftID,
	)
	if err != nil {
		return fmt.Errorf("update draft %s: %w", draftID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft %s: %w", draftID, err)
	}
	if n == 0 {
		return fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	return nil
}

// GetDraft retrieves one draft by ID.
func (s *Store) GetDraft(ctx context.Context, draftID string) (DraftRecord, error) {
	var rec DraftRecord
	var intentID, reviewReason, executedAt sql.NullString
	var status, createdStr, updatedStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT draft_id, run_id, user_id, intent_id, draft_type, title, content, confidence, status,
		        review_reason, executed_at, created_at, updated_at
		 FROM drafts WHERE draft_id = ?`, draftID,
	).Scan(&rec.Draft.ID, &rec.RunID, &rec.UserID, &intentID, &rec.Draft.DraftType, &rec.Draft.Title,
		&rec.Draft.Content, &rec.Draft.Confidence, &status, &reviewReason, &executedAt, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return DraftRecord{}, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return DraftRecord{}, fmt.Errorf("get draft %s: %w", draftID, err)
	}
	rec.Draft.IntentID = intentID.String
	rec.Draft.Status = state.DraftStatus(status)
	rec.ReviewReason = reviewReason.String
	if executedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, executedAt.String); err == nil {
			rec.ExecutedAt = &t
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return rec, nil
}

// RecentOutcomes returns the user's most recent drafts as observer context.
func (s *Store) RecentOutcomes(ctx context.Context, userID string, limit int) ([]state.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT draft_id, draft_type, title, status, created_at
		 FROM drafts WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []state.Outcome
	for rows.Next() {
		var o state.Outcome
		var status, createdStr string
		if err := rows.Scan(&o.DraftID, &o.DraftType, &o.Title, &status, &createdStr); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = state.DraftStatus(status)
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DraftHistory counts the user's drafts by status.
func (s *Store) DraftHistory(ctx context.Context, userID string) (DraftCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM drafts WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return DraftCounts{}, fmt.Errorf("draft history: %w", err)
	}
	defer rows.Close()

	var c DraftCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return DraftCounts{}, fmt.Errorf("scan draft history: %w", err)
		}
		switch state.DraftStatus(status) {
		case state.DraftApproved:
			c.Approved = n
		case state.DraftRejected:
			c.Rejected = n
		case state.DraftAutoExecuted:
			c.AutoExecuted = n
		case state.DraftPendingReview:
			c.Pending = n
		}
	}
	return c, rows.Err()
}

// #endregion drafts

// #region constraint-violations

// InsertConstraintViolation writes one constraint violation row.
func (s *Store) InsertConstraintViolation(ctx context.Context, v ConstraintViolation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO constraint_violations (id, run_id, user_id, draft_id, constraint_text, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RunID, v.UserID, nullIfEmpty(v.DraftID), v.Constraint, nullIfEmpty(v.Note),
		v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert constraint violation: %w", err)
	}
	return nil
}

// #endregion constraint-violations

// #region helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// #endregion helpers
