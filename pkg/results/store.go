package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/cron"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no stored report matches.
var ErrNotFound = errors.New("report not found")

const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPruneSchedule = "@daily"

	pruneJob = "results-prune"
)

// Record is one stored report.
type Record struct {
	SessionID string
	URL       string
	Status    string
	CreatedAt time.Time
	Report    *aggregate.Report
}

// Store is the persistence boundary used by the orchestrator and the API.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, sessionID string) (*Record, error)
	LatestForURL(ctx context.Context, url string, before time.Time) (*Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	scheduler *cron.Scheduler
}

var _ Store = (*SQLiteStore)(nil)

// Open opens or creates the database at path.
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Result store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reports (
			session_id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			status TEXT NOT NULL,
			report TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_url_created ON reports(url, created_at);
		CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores rec, replacing any report of the same session.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return errors.New("session id is required")
	}
	if rec.Report == nil {
		return errors.New("report is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (session_id, url, status, report, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			report = excluded.report,
			created_at = excluded.created_at
	`, rec.SessionID, rec.URL, rec.Status, string(data), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", rec.SessionID, err)
	}

	log.Debug().Str("session_id", rec.SessionID).Str("status", rec.Status).Msg("Report persisted")
	return nil
}

// Load returns the report stored for sessionID.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, url, status, report, created_at
		FROM reports WHERE session_id = ?
	`, sessionID)
	return scanRecord(row)
}

// LatestForURL returns the most recent report for url created before the given time.
func (s *SQLiteStore) LatestForURL(ctx context.Context, url string, before time.Time) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, url, status, report, created_at
		FROM reports
		WHERE url = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT 1
	`, url, before.UnixNano())
	return scanRecord(row)
}

// Prune deletes reports created before olderThan and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// StartPruning deletes reports older than retention on schedule.
func (s *SQLiteStore) StartPruning(schedule string, retention time.Duration) error {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return errors.New("pruning is already running")
	}

	sched := cron.NewScheduler()
	err := sched.Add(pruneJob, schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune stored reports")
			return
		}
		if n > 0 {
			log.Info().Int64("removed", n).Dur("retention", retention).Msg("Pruned stored reports")
		}
	})
	if err != nil {
		return err
	}
	sched.Start()
	s.scheduler = sched
	return nil
}

// Close stops pruning and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Pruning job did not stop cleanly")
		}
	}
	return s.db.Close()
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec     Record
		data    string
		created int64
	)
	if err := row.Scan(&rec.SessionID, &rec.URL, &rec.Status, &data, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var report aggregate.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", rec.SessionID, err)
	}
	rec.Report = &report
	rec.CreatedAt = time.Unix(0, created)
	return &rec, nil
}
