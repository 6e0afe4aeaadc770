package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/voltwise-io/mattergate/internal/model"
)

// SQLiteJournal is an optional append-only record of fetch cycles, one row
// per metric. The exporter stays fully functional without it; rows only
// serve after-the-fact inspection of what the mesh reported.
type SQLiteJournal struct {
	log    *slog.Logger
	db     *sql.DB
	maxAge time.Duration
}

func NewSQLiteJournal(log *slog.Logger, dbPath string, maxAge time.Duration) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &SQLiteJournal{
		log:    log,
		db:     db,
		maxAge: maxAge,
	}

	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS telemetry (
			cycle_id TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			endpoint_id INTEGER NOT NULL,
			unique_id TEXT NOT NULL,
			node_label TEXT,
			active_power_w REAL,
			rms_voltage_v REAL,
			rms_current_a REAL,
			available INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_cycle ON telemetry(cycle_id);
		CREATE INDEX IF NOT EXISTS idx_telemetry_recorded_at ON telemetry(recorded_at);
	`
	_, err := j.db.Exec(query)
	return err
}

// Record appends every metric of one Valid snapshot under a shared cycle id
// and prunes rows older than the configured max age.
func (j *SQLiteJournal) Record(ctx context.Context, snap model.Snapshot) error {
	if snap.State != model.SnapshotValid {
		return nil
	}

	cycleID := uuid.New().String()
	recordedAt := snap.TakenAt.Format(time.RFC3339)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry (cycle_id, node_id, endpoint_id, unique_id, node_label, active_power_w, rms_voltage_v, rms_current_a, available, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range snap.Metrics {
		available := 0
		if m.Available {
			available = 1
		}
		_, err := stmt.ExecContext(ctx,
			cycleID,
			int64(m.NodeID),
			int64(m.EndpointID),
			m.ExposedID(),
			m.NodeLabel,
			nullFloat(m.ActivePowerW),
			nullFloat(m.RMSVoltageV),
			nullFloat(m.RMSCurrentA),
			available,
			recordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	j.cleanup(ctx)

	j.log.Debug("snapshot journaled",
		slog.String("cycle_id", cycleID),
		slog.Int("metrics", len(snap.Metrics)),
	)
	return nil
}

func (j *SQLiteJournal) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.maxAge).Format(time.RFC3339)
	result, err := j.db.ExecContext(ctx, "DELETE FROM telemetry WHERE recorded_at < ?", cutoff)
	if err != nil {
		j.log.Error("failed to clean up old journal rows", slog.String("error", err.Error()))
		return
	}
	if deleted, _ := result.RowsAffected(); deleted > 0 {
		j.log.Debug("cleaned up old journal rows", slog.Int64("deleted", deleted))
	}
}

// Count returns the number of journaled rows; it feeds the health surface.
func (j *SQLiteJournal) Count(ctx context.Context) (int64, error) {
	var count int64
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM telemetry").Scan(&count)
	return count, err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// nullFloat maps an unset reading to SQL NULL; unset never becomes zero.
func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
