package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// Supported SQL drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	blobType    string
	dollarBinds bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {blobType: "BLOB"},
	DriverPostgres: {blobType: "BYTEA", dollarBinds: true},
}

// SQLStore persists runs in SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq).
// Queries are written with ? placeholders and rebound per driver.
type SQLStore struct {
	driver  string
	dsn     string
	dialect dialect

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLStore creates a store for driver and dsn; call Init before use
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is required", driver)
	}
	return &SQLStore{driver: driver, dsn: dsn, dialect: d}, nil
}

// Driver returns the database/sql driver name
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.driver, err)
	}
	if s.driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY from concurrent progress appends
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", s.driver, err)
	}
	if err := s.createTables(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("create tables: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLStore) createTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			payload ` + s.dialect.blobType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_progress (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			reward DOUBLE PRECISION NOT NULL,
			reported_at BIGINT NOT NULL,
			PRIMARY KEY (run_id, iteration)
		)`,
		`CREATE TABLE IF NOT EXISTS run_weights (
			run_id TEXT PRIMARY KEY,
			archive ` + s.dialect.blobType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_trades (
			run_id TEXT PRIMARY KEY,
			report ` + s.dialect.blobType + ` NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.dollarBinds {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveRun(ctx context.Context, run *models.Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, status, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`), run.ID, string(run.Status), run.CreatedAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*models.Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM runs WHERE id = ?`), id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get run %s: %w", id, err)
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return nil, false, fmt.Errorf("run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLStore) ListRuns(ctx context.Context) ([]*models.Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLStore) AppendProgress(ctx context.Context, runID string, point models.ProgressPoint) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO run_progress (run_id, iteration, reward, reported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, iteration) DO UPDATE SET
			reward = excluded.reward,
			reported_at = excluded.reported_at
	`), runID, point.Iteration, point.Reward, point.At.UnixNano())
	if err != nil {
		return fmt.Errorf("append progress for %s: %w", runID, err)
	}
	return nil
}

func (s *SQLStore) GetProgress(ctx context.Context, runID string) ([]models.ProgressPoint, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.rebind(`
		SELECT iteration, reward, reported_at FROM run_progress
		WHERE run_id = ? ORDER BY iteration
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("get progress for %s: %w", runID, err)
	}
	defer rows.Close()

	points := []models.ProgressPoint{}
	for rows.Next() {
		var (
			p  models.ProgressPoint
			at int64
		)
		if err := rows.Scan(&p.Iteration, &p.Reward, &at); err != nil {
			return nil, fmt.Errorf("get progress for %s: %w", runID, err)
		}
		p.At = time.Unix(0, at).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *SQLStore) SaveWeights(ctx context.Context, runID string, archive []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO run_weights (run_id, archive)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			archive = excluded.archive
	`), runID, archive)
	if err != nil {
		return fmt.Errorf("save weights for %s: %w", runID, err)
	}
	return nil
}

func (s *SQLStore) GetWeights(ctx context.Context, runID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var archive []byte
	err = db.QueryRowContext(ctx, s.rebind(`SELECT archive FROM run_weights WHERE run_id = ?`), runID).Scan(&archive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get weights for %s: %w", runID, err)
	}
	return archive, true, nil
}

func (s *SQLStore) SaveTrades(ctx context.Context, runID string, report []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO run_trades (run_id, report)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			report = excluded.report
	`), runID, report)
	if err != nil {
		return fmt.Errorf("save trades for %s: %w", runID, err)
	}
	return nil
}

func (s *SQLStore) GetTrades(ctx context.Context, runID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var report []byte
	err = db.QueryRowContext(ctx, s.rebind(`SELECT report FROM run_trades WHERE run_id = ?`), runID).Scan(&report)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get trades for %s: %w", runID, err)
	}
	return report, true, nil
}

func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
