package ingest

import (
	"strconv"
	"time"

	"github.com/metromessages/metromsg/internal/store"
	"go.uber.org/zap"
)

// Reconciler tracks ingestion checkpoints in the store so counters and the
// last-ingest watermark survive daemon restarts.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates an ingest checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO ingest_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves an ingest checkpoint value.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM ingest_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// RecordIngest advances the ingest counters. Best-effort: checkpoint
// failures are logged, never surfaced into the ingest path.
func (r *Reconciler) RecordIngest(count int) {
	total := int64(count)
	if prev, err := r.GetCheckpoint("ingested_total"); err == nil {
		if n, err := strconv.ParseInt(prev, 10, 64); err == nil {
			total += n
		}
	}
	if err := r.UpdateCheckpoint("ingested_total", strconv.FormatInt(total, 10)); err != nil {
		r.logger.Warn("failed to update ingest counter", zap.Error(err))
	}
	if err := r.UpdateCheckpoint("last_ingest_at", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		r.logger.Warn("failed to update ingest watermark", zap.Error(err))
	}
}
