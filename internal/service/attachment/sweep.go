package attachment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"studyhub/internal/metrics"
)

const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepBatch    = 100
	DefaultSweepInterval = time.Hour
)

// SweepOptions selects what a sweep retires.
type SweepOptions struct {
	// OlderThan is the retention window; attachments created before now-OlderThan go.
	OlderThan time.Duration
	// DryRun only reports candidates.
	DryRun    bool
	BatchSize int
}

// Candidate is an attachment eligible for deletion.
type Candidate struct {
	ID          string    `db:"id"`
	OwnerID     int64     `db:"uploader_user_id"`
	StoragePath string    `db:"storage_path"`
	CreatedAt   time.Time `db:"created_at"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Cutoff     time.Time
	DryRun     bool
	Candidates []Candidate
	// Deleted counts rows marked deleted_at.
	Deleted int
	// Failed counts candidates whose storage delete failed; their rows stay unmarked and
	// the next sweep retries them.
	Failed int
	Errors []string
}

// Sweep retires attachments past the retention window. Batches run sequentially; for each
// one the storage bytes are removed first and only then are the rows marked deleted, so an
// interrupted sweep leaves rows that the next run picks up again.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if opts.OlderThan <= 0 {
		opts.OlderThan = DefaultRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultSweepBatch
	}
	report := &SweepReport{Cutoff: dbTime(s.now().Add(-opts.OlderThan)), DryRun: opts.DryRun}

	err := s.db.SelectContext(ctx, &report.Candidates, s.db.Rebind(
		`SELECT id, uploader_user_id, storage_path, created_at FROM chat_attachments
		WHERE created_at < ? AND deleted_at IS NULL ORDER BY created_at`), report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired attachments: %w", err)
	}
	if opts.DryRun {
		return report, nil
	}

	for start := 0; start < len(report.Candidates); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(report.Candidates) {
			end = len(report.Candidates)
		}
		batch := report.Candidates[start:end]
		marked, err := s.sweepBatch(ctx, batch)
		if err != nil {
			report.Failed += len(batch) - marked
			report.Errors = append(report.Errors, err.Error())
			s.logger.Error("attachment sweep batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		}
		report.Deleted += marked
		metrics.AttachmentsSwept.Add(float64(marked))
	}
	return report, nil
}

func (s *Service) sweepBatch(ctx context.Context, batch []Candidate) (int, error) {
	paths := make([]string, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, c := range batch {
		paths = append(paths, c.StoragePath)
		ids = append(ids, c.ID)
	}
	if err := s.store.Delete(ctx, paths...); err != nil {
		return 0, fmt.Errorf("delete attachment objects: %w", err)
	}
	query, args, err := sqlx.In(`UPDATE chat_attachments SET deleted_at = ? WHERE deleted_at IS NULL AND id IN (?)`, s.stamp(), ids)
	if err != nil {
		return 0, fmt.Errorf("build sweep update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("mark attachments deleted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return int(affected), nil
}

// stamp is the current time as written to timestamp columns.
func (s *Service) stamp() time.Time {
	return dbTime(s.now())
}

// dbTime normalizes t to whole UTC seconds. SQLite keeps timestamps as text, so created_at
// and the sweep cutoff only compare correctly when both share one zone and one precision.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, interval, retention)
}

func (s *Service) sweepLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx, SweepOptions{OlderThan: retention})
			if err != nil {
				s.logger.Error("attachment sweep", zap.Error(err))
				continue
			}
			if len(report.Candidates) > 0 {
				s.logger.Info("attachment sweep finished",
					zap.Int("candidates", len(report.Candidates)),
					zap.Int("deleted", report.Deleted),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}
