// Package calibration keeps a per-user, per-stage ledger of predicted
// confidences and their realised outcomes, and uses it to discount or
// inflate raw confidence scores.
package calibration

// #region imports
import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// #endregion

// #region schema

const predictionsSchema = `
CREATE TABLE IF NOT EXISTS calibration_predictions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    run_id        TEXT NOT NULL,
    stage         TEXT NOT NULL,
    confidence    REAL NOT NULL,
    context_hash  TEXT NOT NULL DEFAULT '',
    outcome       INTEGER,
    created_at    TEXT NOT NULL,
    resolved_at   TEXT
);
`

const predictionsIndex = `
CREATE INDEX IF NOT EXISTS idx_calibration_lookup
ON calibration_predictions(user_id, stage);
`

// #endregion

// #region types

// Config tunes how history is weighted.
type Config struct {
	HalfLife     time.Duration // age at which a sample counts half
	MinSamples   int           // resolved samples required before adjusting
	MinRatio     float64
	MaxRatio     float64
	WriteTimeout time.Duration // bound on each asynchronous insert
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		HalfLife:     7 * 24 * time.Hour,
		MinSamples:   3,
		MinRatio:     0.5,
		MaxRatio:     1.25,
		WriteTimeout: 5 * time.Second,
	}
}

// Prediction is one confidence a stage committed to.
type Prediction struct {
	UserID     string
	RunID      string
	Stage      string
	Confidence float64
	Snapshot   any // hashed, not stored
	CreatedAt  time.Time
}

// Factor is the multiplier derived from a stage's history.
type Factor struct {
	Ratio   float64 // 1 when there is not enough history
	Samples int
}

// Apply scales raw by the ratio and clamps to [0,1].
func (f Factor) Apply(raw float64) float64 {
	return clamp(raw*f.Ratio, 0, 1)
}

// #endregion

// #region ledger-struct

// Ledger persists predictions in SQLite and queries decay-weighted accuracy.
type Ledger struct {
	db     *sql.DB
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLedger initializes the calibration_predictions table and returns a Ledger.
func NewLedger(db *sql.DB, config Config, logger *zap.Logger) (*Ledger, error) {
	if _, err := db.Exec(predictionsSchema); err != nil {
		return nil, fmt.Errorf("create calibration schema: %w", err)
	}
	if _, err := db.Exec(predictionsIndex); err != nil {
		return nil, fmt.Errorf("create calibration index: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, config: config, logger: logger.Named("calibration"), now: time.Now}, nil
}

// Close waits for in-flight writes. Later RecordPrediction calls are dropped.
func (l *Ledger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}

// #endregion

// #region record-prediction

// RecordPrediction stores p in the background. It never blocks the caller;
// failures are logged.
func (l *Ledger) RecordPrediction(p Prediction) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("ledger closed, dropping prediction",
			zap.String("run_id", p.RunID), zap.String("stage", p.Stage))
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
		defer cancel()
		if err := l.Insert(ctx, p); err != nil {
			l.logger.Warn("record prediction failed",
				zap.String("run_id", p.RunID),
				zap.String("stage", p.Stage),
				zap.Error(err))
		}
	}()
}

// Insert persists a single prediction row synchronously.
func (l *Ledger) Insert(ctx context.Context, p Prediction) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO calibration_predictions
		(id, user_id, run_id, stage, confidence, context_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		p.UserID,
		p.RunID,
		p.Stage,
		p.Confidence,
		SnapshotHash(p.Snapshot),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// SnapshotHash is the hex BLAKE3 digest of the JSON encoding of v.
func SnapshotHash(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

// #endregion

// #region record-outcome

// RecordOutcome resolves every open prediction of runID. Returns the number
// of rows resolved.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, success bool) (int64, error) {
	outcome := 0
	if success {
		outcome = 1
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE calibration_predictions
		SET outcome = ?, resolved_at = ?
		WHERE run_id = ? AND outcome IS NULL`,
		outcome, l.now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve predictions for %s: %w", runID, err)
	}
	return res.RowsAffected()
}

// #endregion

// #region adjusted-confidence

// Factor returns the decay-weighted ratio of realised accuracy to predicted
// confidence for the stage. Ratio is 1 with fewer than MinSamples resolved rows.
func (l *Ledger) Factor(ctx context.Context, userID, stage string) (Factor, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT confidence, outcome, created_at
		FROM calibration_predictions
		WHERE user_id = ? AND stage = ? AND outcome IS NOT NULL`,
		userID, stage,
	)
	if err != nil {
		return Factor{Ratio: 1}, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	now := l.now()
	halfLife := l.config.HalfLife.Hours()
	var predicted, actual float64
	count := 0

	for rows.Next() {
		var confidence float64
		var outcome int
		var createdAtStr string
		if err := rows.Scan(&confidence, &outcome, &createdAtStr); err != nil {
			return Factor{Ratio: 1}, fmt.Errorf("scan prediction: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			continue
		}
		weight := 1.0
		if halfLife > 0 {
			weight = math.Exp2(-now.Sub(createdAt).Hours() / halfLife)
		}
		predicted += confidence * weight
		actual += float64(outcome) * weight
		count++
	}
	if err := rows.Err(); err != nil {
		return Factor{Ratio: 1}, fmt.Errorf("iterate predictions: %w", err)
	}

	if count < l.config.MinSamples || predicted <= 0 {
		return Factor{Ratio: 1, Samples: count}, nil
	}
	ratio := clamp(actual/predicted, l.config.MinRatio, l.config.MaxRatio)
	return Factor{Ratio: ratio, Samples: count}, nil
}

// AdjustedConfidence calibrates raw using the stage's history. On error the
// raw value is returned alongside the error.
func (l *Ledger) AdjustedConfidence(ctx context.Context, userID, stage string, raw float64) (float64, error) {
	f, err := l.Factor(ctx, userID, stage)
	if err != nil {
		return clamp(raw, 0, 1), err
	}
	return f.Apply(raw), nil
}

// #endregion

// #region helpers
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion
