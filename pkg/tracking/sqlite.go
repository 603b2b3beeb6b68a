package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteTracker stores runs in a local SQLite database.
type SQLiteTracker struct {
	db           *sql.DB
	artifactRoot string
}

func NewSQLiteTracker(dbPath string) (*SQLiteTracker, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	t := &SQLiteTracker{
		db:           db,
		artifactRoot: filepath.Join(filepath.Dir(dbPath), "artifacts"),
	}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return t, nil
}

func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

func (t *SQLiteTracker) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		experiment_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id);

	CREATE TABLE IF NOT EXISTS params (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		step INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id, key);

	CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (run_id, path)
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

func (t *SQLiteTracker) experimentID(ctx context.Context, name string, create bool) (int64, error) {
	var id int64
	err := t.db.QueryRowContext(ctx, `SELECT id FROM experiments WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows || !create {
		return 0, err
	}
	res, err := t.db.ExecContext(ctx, `INSERT INTO experiments (name, created_at) VALUES (?, ?)`, name, now())
	if err != nil {
		return 0, fmt.Errorf("failed to create experiment %s: %w", name, err)
	}
	return res.LastInsertId()
}

func (t *SQLiteTracker) StartRun(ctx context.Context, experiment string) (Run, error) {
	experimentID, err := t.experimentID(ctx, experiment, true)
	if err != nil {
		return nil, err
	}
	run := &sqliteRun{tracker: t, id: uuid.New().String()}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment_id, status, start_time) VALUES (?, ?, ?, ?)`,
		run.id, experimentID, string(Running), now())
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (t *SQLiteTracker) ListRuns(ctx context.Context, experiment string) ([]RunInfo, error) {
	experimentID, err := t.experimentID(ctx, experiment, false)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("experiment %s not found", experiment)
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx,
		`SELECT id, status, start_time, end_time FROM runs WHERE experiment_id = ? ORDER BY start_time`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	var result []RunInfo
	for rows.Next() {
		var info RunInfo
		var status string
		var startTime int64
		var endTime sql.NullInt64
		if err := rows.Scan(&info.ID, &status, &startTime, &endTime); err != nil {
			rows.Close()
			return nil, err
		}
		info.Status = Status(status)
		info.StartTime = time.Unix(0, startTime).UTC()
		if endTime.Valid {
			info.EndTime = time.Unix(0, endTime.Int64).UTC()
		}
		result = append(result, info)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Params, err = t.params(ctx, result[i].ID); err != nil {
			return nil, err
		}
		if result[i].Metrics, err = t.latestMetrics(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *SQLiteTracker) params(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT key, value FROM params WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query params: %w", err)
	}
	defer rows.Close()
	result := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// latestMetrics returns the value logged at the highest step of each metric key.
func (t *SQLiteTracker) latestMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT m.key, m.value FROM metrics m
		WHERE m.run_id = ? AND m.rowid = (
			SELECT m2.rowid FROM metrics m2
			WHERE m2.run_id = m.run_id AND m2.key = m.key
			ORDER BY m2.step DESC, m2.rowid DESC LIMIT 1
		)`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()
	result := map[string]float64{}
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

type sqliteRun struct {
	tracker *SQLiteTracker
	id      string
}

func (r *sqliteRun) ID() string {
	return r.id
}

// LogParam records a parameter. Parameters are immutable: logging a different value
// for a key already logged is an error.
func (r *sqliteRun) LogParam(ctx context.Context, key string, value interface{}) error {
	formatted := FormatParam(value)
	var existing string
	err := r.tracker.db.QueryRowContext(ctx,
		`SELECT value FROM params WHERE run_id = ? AND key = ?`, r.id, key).Scan(&existing)
	switch {
	case err == nil && existing == formatted:
		return nil
	case err == nil:
		return fmt.Errorf("param %s already logged with value %q", key, existing)
	case err != sql.ErrNoRows:
		return err
	}
	_, err = r.tracker.db.ExecContext(ctx,
		`INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)`, r.id, key, formatted)
	return err
}

func (r *sqliteRun) LogMetric(ctx context.Context, key string, value float64, step int) error {
	_, err := r.tracker.db.ExecContext(ctx,
		`INSERT INTO metrics (run_id, key, value, step, timestamp) VALUES (?, ?, ?, ?, ?)`,
		r.id, key, value, step, now())
	return err
}

// LogArtifact copies the file into the artifact directory of the run.
func (r *sqliteRun) LogArtifact(ctx context.Context, path string) error {
	dir := filepath.Join(r.tracker.artifactRoot, r.id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	name := filepath.Base(path)
	if err := copyFile(path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to copy artifact %s: %w", path, err)
	}
	_, err := r.tracker.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (run_id, path) VALUES (?, ?)`, r.id, name)
	return err
}

func (r *sqliteRun) End(ctx context.Context, status Status) error {
	_, err := r.tracker.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, end_time = ? WHERE id = ?`, string(status), now(), r.id)
	return err
}

// ArtifactDir returns where the artifacts of a run are stored.
func (t *SQLiteTracker) ArtifactDir(runID string) string {
	return filepath.Join(t.artifactRoot, runID)
}

// now is the timestamp stored in the database, in nanoseconds since the epoch.
func now() int64 {
	return time.Now().UnixNano()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
