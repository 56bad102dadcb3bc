// Package history persists conversion outcomes in SQLite so failed files
// can be retried by a later process.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/history/migrations"
)

// ErrNoHistory is returned when no batch has been recorded yet
var ErrNoHistory = errors.New("no conversion history")

// ErrNotRecorded marks a file of a batch whose outcome was never logged
var ErrNotRecorded = errors.New("outcome not recorded")

// fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordedError is a failure restored from the store
type RecordedError struct {
	Kind    string
	Message string
}

func (e *RecordedError) Error() string {
	return e.Message
}

// ErrorKind returns the kind recorded with the failure
func (e *RecordedError) ErrorKind() string {
	return e.Kind
}

// BatchInfo summarises a recorded batch
type BatchInfo struct {
	ID        string
	InputDir  string
	OutputDir string
	Files     int
	Succeeded int
	Failed    int
	CreatedAt time.Time
}

// Store is the SQLite-backed outcome log
type Store struct {
	db   *sql.DB
	path string
}

var _ batch.OutcomeLog = (*Store)(nil)

// NewStore opens (creating if needed) history.db in dataDir. If dataDir is
// empty, defaults to ~/.fit2gpx.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".fit2gpx")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serialises the concurrent appends of a batch
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// Append records one outcome, registering its batch on first use
func (s *Store) Append(ctx context.Context, e batch.Entry) error {
	files, err := json.Marshal(e.Files)
	if err != nil {
		return fmt.Errorf("encoding file list: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, input_dir, output_dir, files, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET files = excluded.files
		WHERE json_array_length(excluded.files) > json_array_length(batches.files)
	`, e.BatchID, e.InputDir, e.OutputDir, string(files), at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}

	o := e.Outcome
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes
			(batch_id, file_index, file_name, input_path, output_path, success, points,
			 error_kind, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.BatchID, e.Index, o.FileName, o.InputPath, o.OutputPath, o.Success, o.PointsWritten,
		o.ErrorKind(), o.ErrorMessage(), o.Duration.Milliseconds(), at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving outcome: %w", err)
	}

	return tx.Commit()
}

// LatestReport rebuilds the report of the most recent batch. Files that
// batch did not run (a retry pass only runs its selection) take the latest
// outcome recorded for the same input in any batch; files with no recorded
// outcome at all fail with ErrNotRecorded.
func (s *Store) LatestReport(ctx context.Context) (batch.Report, error) {
	var (
		rep       batch.Report
		files     string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, input_dir, output_dir, files, created_at
		FROM batches ORDER BY created_at DESC, rowid DESC LIMIT 1
	`).Scan(&rep.ID, &rep.InputDir, &rep.OutputDir, &files, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Report{}, ErrNoHistory
	}
	if err != nil {
		return batch.Report{}, fmt.Errorf("loading latest batch: %w", err)
	}

	if err := json.Unmarshal([]byte(files), &rep.Files); err != nil {
		return batch.Report{}, fmt.Errorf("decoding file list: %w", err)
	}
	rep.StartedAt, _ = time.Parse(timeLayout, createdAt)
	rep.Outcomes = make([]convert.Outcome, len(rep.Files))

	recorded, err := s.batchOutcomes(ctx, rep.ID)
	if err != nil {
		return batch.Report{}, err
	}

	req := batch.Request{InputDir: rep.InputDir, Files: rep.Files}
	for i := range rep.Files {
		if o, ok := recorded[i]; ok {
			rep.Outcomes[i] = o
			continue
		}
		in := req.InputPath(i)
		o, ok, err := s.latestFor(ctx, in)
		if err != nil {
			return batch.Report{}, err
		}
		if !ok {
			o = convert.Outcome{FileName: filepath.Base(in), InputPath: in, Err: ErrNotRecorded}
		}
		rep.Outcomes[i] = o
	}

	return rep, nil
}

const outcomeColumns = `file_index, file_name, input_path, output_path, success, points, error_kind, error, duration_ms`

func (s *Store) batchOutcomes(ctx context.Context, batchID string) (map[int]convert.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[int]convert.Outcome)
	for rows.Next() {
		i, o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, rows.Err()
}

func (s *Store) latestFor(ctx context.Context, inputPath string) (convert.Outcome, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+outcomeColumns+` FROM outcomes
		WHERE input_path = ? ORDER BY recorded_at DESC, rowid DESC LIMIT 1
	`, inputPath)
	_, o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return convert.Outcome{}, false, nil
	}
	if err != nil {
		return convert.Outcome{}, false, err
	}
	return o, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(sc scanner) (int, convert.Outcome, error) {
	var (
		index      int
		o          convert.Outcome
		kind, msg  string
		durationMs int64
	)
	err := sc.Scan(&index, &o.FileName, &o.InputPath, &o.OutputPath, &o.Success, &o.PointsWritten, &kind, &msg, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, o, err
		}
		return 0, o, fmt.Errorf("scanning outcome: %w", err)
	}
	o.Duration = time.Duration(durationMs) * time.Millisecond
	if !o.Success {
		o.Err = &RecordedError{Kind: kind, Message: msg}
	}
	return index, o, nil
}

// Recent lists up to limit batches, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]BatchInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.input_dir, b.output_dir, b.files, b.created_at,
			COALESCE(SUM(o.success), 0), COUNT(o.batch_id) - COALESCE(SUM(o.success), 0)
		FROM batches b LEFT JOIN outcomes o ON o.batch_id = b.id
		GROUP BY b.id
		ORDER BY b.created_at DESC, b.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var out []BatchInfo
	for rows.Next() {
		var (
			info      BatchInfo
			files     string
			createdAt string
		)
		if err := rows.Scan(&info.ID, &info.InputDir, &info.OutputDir, &files, &createdAt, &info.Succeeded, &info.Failed); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		var names []string
		if err := json.Unmarshal([]byte(files), &names); err != nil {
			return nil, fmt.Errorf("decoding file list: %w", err)
		}
		info.Files = len(names)
		info.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, info)
	}
	return out, rows.Err()
}
