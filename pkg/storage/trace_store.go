package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openvna/vnad/pkg/cal"
	"github.com/openvna/vnad/pkg/logging"
	"github.com/openvna/vnad/pkg/sweep"
)

// TraceStore persists finished sweeps and named calibrations in SQLite.
// It implements cal.Store.
type TraceStore struct {
	db        *sql.DB
	dbPath    string
	maxSweeps int
}

// NewTraceStore opens (creating if needed) the trace database.
func NewTraceStore(dbPath string, maxSweeps int) (*TraceStore, error) {
	store := &TraceStore{
		dbPath:    dbPath,
		maxSweeps: maxSweeps,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize trace store: %w", err)
	}
	return store, nil
}

func (ts *TraceStore) initialize() error {
	if ts.dbPath == "" {
		ts.dbPath = "./vnad.db"
	}
	if err := os.MkdirAll(filepath.Dir(ts.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ts.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ts.db = db

	if err := ts.createTables(); err != nil {
		db.Close()
		return err
	}
	return nil
}

func (ts *TraceStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweeps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		start_hz REAL NOT NULL,
		stop_hz REAL NOT NULL,
		points INTEGER NOT NULL,
		calibrated INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS trace_points (
		sweep_id INTEGER NOT NULL REFERENCES sweeps(id) ON DELETE CASCADE,
		point INTEGER NOT NULL,
		frequency REAL NOT NULL,
		s_re REAL NOT NULL,
		s_im REAL NOT NULL,
		PRIMARY KEY (sweep_id, point)
	);
	CREATE TABLE IF NOT EXISTS calibrations (
		name TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		points INTEGER NOT NULL,
		terms TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sweeps_started ON sweeps(started_at);
	`
	if _, err := ts.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// SaveSweep stores a finished sweep and prunes old ones past the limit.
func (ts *TraceStore) SaveSweep(res sweep.Result) (int64, error) {
	tx, err := ts.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	out, err := tx.Exec(
		`INSERT INTO sweeps (started_at, start_hz, stop_hz, points, calibrated) VALUES (?, ?, ?, ?, ?)`,
		res.StartedAt, res.Start, res.Stop, res.Points, res.Calibrated)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sweep: %w", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO trace_points (sweep_id, point, frequency, s_re, s_im) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range res.Frequencies {
		if _, err := stmt.Exec(id, i, res.Frequencies[i], real(res.S11[i]), imag(res.S11[i])); err != nil {
			return 0, fmt.Errorf("failed to insert point %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}

	if err := ts.pruneOldSweeps(); err != nil {
		logging.Warnf("storage", "failed to prune old sweeps: %v", err)
	}
	return id, nil
}

func (ts *TraceStore) pruneOldSweeps() error {
	if ts.maxSweeps <= 0 {
		return nil
	}
	_, err := ts.db.Exec(`
		DELETE FROM sweeps WHERE id NOT IN (
			SELECT id FROM sweeps ORDER BY started_at DESC, id DESC LIMIT ?
		)`, ts.maxSweeps)
	return err
}

// GetSweep loads one stored sweep by id.
func (ts *TraceStore) GetSweep(id int64) (sweep.Result, error) {
	var res sweep.Result
	var calibrated int
	err := ts.db.QueryRow(
		`SELECT started_at, start_hz, stop_hz, points, calibrated FROM sweeps WHERE id = ?`, id).
		Scan(&res.StartedAt, &res.Start, &res.Stop, &res.Points, &calibrated)
	if err == sql.ErrNoRows {
		return res, fmt.Errorf("sweep %d not found", id)
	}
	if err != nil {
		return res, fmt.Errorf("failed to load sweep %d: %w", id, err)
	}
	res.Calibrated = calibrated != 0

	rows, err := ts.db.Query(
		`SELECT frequency, s_re, s_im FROM trace_points WHERE sweep_id = ? ORDER BY point`, id)
	if err != nil {
		return res, fmt.Errorf("failed to load trace points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var freq, re, im float64
		if err := rows.Scan(&freq, &re, &im); err != nil {
			return res, err
		}
		res.Frequencies = append(res.Frequencies, freq)
		res.S11 = append(res.S11, complex(re, im))
	}
	return res, rows.Err()
}

// LatestSweepID returns the id of the most recent stored sweep.
func (ts *TraceStore) LatestSweepID() (int64, error) {
	var id int64
	err := ts.db.QueryRow(`SELECT id FROM sweeps ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no sweeps stored")
	}
	return id, err
}

// SweepSummary is one row of the sweep listing.
type SweepSummary struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	StartHz    float64   `json:"start_hz"`
	StopHz     float64   `json:"stop_hz"`
	Points     int       `json:"points"`
	Calibrated bool      `json:"calibrated"`
}

// ListSweeps returns the most recent sweeps, newest first.
func (ts *TraceStore) ListSweeps(limit int) ([]SweepSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ts.db.Query(
		`SELECT id, started_at, start_hz, stop_hz, points, calibrated
		 FROM sweeps ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweeps: %w", err)
	}
	defer rows.Close()

	var out []SweepSummary
	for rows.Next() {
		var s SweepSummary
		var calibrated int
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.StartHz, &s.StopHz, &s.Points, &calibrated); err != nil {
			return nil, err
		}
		s.Calibrated = calibrated != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// complexPair serializes one complex value as [re, im].
type complexPair [2]float64

type termsRecord struct {
	Directivity        []complexPair `json:"ed"`
	SourceMatch        []complexPair `json:"es"`
	ReflectionTracking []complexPair `json:"er"`
	TransmissionTrack  []complexPair `json:"et,omitempty"`
	Isolation          []complexPair `json:"ex,omitempty"`
}

func encodePairs(src []complex128) []complexPair {
	if src == nil {
		return nil
	}
	out := make([]complexPair, len(src))
	for i, c := range src {
		out[i] = complexPair{real(c), imag(c)}
	}
	return out
}

func decodePairs(src []complexPair) []complex128 {
	if src == nil {
		return nil
	}
	out := make([]complex128, len(src))
	for i, p := range src {
		out[i] = complex(p[0], p[1])
	}
	return out
}

// SaveCalibration stores a computed calibration's error terms under a name.
func (ts *TraceStore) SaveCalibration(name string, c *cal.Calibration) error {
	terms, err := c.Terms()
	if err != nil {
		return err
	}

	rec := termsRecord{
		Directivity:        encodePairs(terms.Directivity),
		SourceMatch:        encodePairs(terms.SourceMatch),
		ReflectionTracking: encodePairs(terms.ReflectionTracking),
		TransmissionTrack:  encodePairs(terms.TransmissionTrack),
		Isolation:          encodePairs(terms.Isolation),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode terms: %w", err)
	}

	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = ts.db.Exec(
		`INSERT OR REPLACE INTO calibrations (name, created_at, points, terms) VALUES (?, ?, ?, ?)`,
		name, created, c.Points(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save calibration %q: %w", name, err)
	}
	return nil
}

// LoadCalibration restores a named calibration with computed terms.
func (ts *TraceStore) LoadCalibration(name string) (*cal.Calibration, error) {
	var created time.Time
	var points int
	var data string
	err := ts.db.QueryRow(
		`SELECT created_at, points, terms FROM calibrations WHERE name = ?`, name).
		Scan(&created, &points, &data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("calibration %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration %q: %w", name, err)
	}

	var rec termsRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode calibration %q: %w", name, err)
	}

	c, err := cal.New(points)
	if err != nil {
		return nil, err
	}
	c.Name = name
	c.CreatedAt = created
	err = c.SetTerms(cal.ErrorTerms{
		Directivity:        decodePairs(rec.Directivity),
		SourceMatch:        decodePairs(rec.SourceMatch),
		ReflectionTracking: decodePairs(rec.ReflectionTracking),
		TransmissionTrack:  decodePairs(rec.TransmissionTrack),
		Isolation:          decodePairs(rec.Isolation),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCalibrations returns the stored calibration names, newest first.
func (ts *TraceStore) ListCalibrations() ([]string, error) {
	rows, err := ts.db.Query(`SELECT name FROM calibrations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (ts *TraceStore) Close() error {
	if ts.db != nil {
		return ts.db.Close()
	}
	return nil
}
