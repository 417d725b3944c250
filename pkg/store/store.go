package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/pkg/trend"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when a run ID has no stored run
var ErrRunNotFound = errors.New("run not found")

// Run describes one pipeline invocation
type Run struct {
	ID         string
	Source     string
	Since      civil.Date
	Until      civil.Date
	Status     string
	Topics     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists run provenance in SQLite: the run, every day's outcome, the observations
// it produced and the taxonomy as it grew.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to :memory: is a separate database, and SQLite has a single writer anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts the run and its seed taxonomy
func (s *Store) StartRun(ctx context.Context, run Run, seed []string) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, since, until, status, topics, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Since.String(), nullableDate(run.Until), RunRunning, len(seed), run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	for i, topic := range seed {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO taxonomy_entries (run_id, position, topic) VALUES (?, ?, ?)`,
			run.ID, i, topic)
		if err != nil {
			return fmt.Errorf("failed to insert seed topic %q: %w", topic, err)
		}
	}

	return tx.Commit()
}

// RecordDay stores a day's outcome, its observations and the topics it added in one
// transaction
func (s *Store) RecordDay(ctx context.Context, runID string, outcome types.DayOutcome) error {
	mapping, err := encodeMapping(outcome.Mapping)
	if err != nil {
		return err
	}
	added, err := json.Marshal(nonNil(outcome.Added))
	if err != nil {
		return fmt.Errorf("failed to encode added topics: %w", err)
	}
	rejected, err := json.Marshal(nonNil(outcome.Rejected))
	if err != nil {
		return fmt.Errorf("failed to encode rejected topics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	date := outcome.Date.String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO day_outcomes (run_id, date, items, clusters, status, mapping, added, rejected, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, date, outcome.Items, outcome.Clusters, string(outcome.Status),
		mapping, string(added), string(rejected), nullableString(outcome.Error))
	if err != nil {
		return fmt.Errorf("failed to insert outcome for %s: %w", date, err)
	}

	for topic, count := range outcome.Counts {
		if count <= 0 {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO observations (run_id, date, topic, count) VALUES (?, ?, ?, ?)
			 ON CONFLICT (run_id, date, topic) DO UPDATE SET count = count + excluded.count`,
			runID, date, topic, count)
		if err != nil {
			return fmt.Errorf("failed to insert observation %s/%s: %w", date, topic, err)
		}
	}

	for _, topic := range outcome.Added {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO taxonomy_entries (run_id, position, topic, added_on)
			 SELECT ?, COALESCE(MAX(position) + 1, 0), ?, ? FROM taxonomy_entries WHERE run_id = ?`,
			runID, topic, date, runID)
		if err != nil {
			return fmt.Errorf("failed to insert topic %q: %w", topic, err)
		}
	}

	return tx.Commit()
}

// FinishRun marks the run completed or failed and records the final taxonomy size
func (s *Store) FinishRun(ctx context.Context, runID string, status string, topics int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, topics = ?, finished_at = ? WHERE id = ?`,
		status, topics, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads a run by ID
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		run        Run
		since      string
		until      sql.NullString
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, since, until, status, topics, started_at, finished_at FROM runs WHERE id = ?`,
		runID).Scan(&run.ID, &run.Source, &since, &until, &run.Status, &run.Topics, &run.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.Since, err = civil.ParseDate(since); err != nil {
		return nil, fmt.Errorf("run %s has invalid start date: %w", runID, err)
	}
	if until.Valid {
		if run.Until, err = civil.ParseDate(until.String); err != nil {
			return nil, fmt.Errorf("run %s has invalid end date: %w", runID, err)
		}
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}

// Outcomes returns the stored day outcomes of a run in date order. Counts are not
// included; use Observations for those.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]types.DayOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, items, clusters, status, mapping, added, rejected, error
		 FROM day_outcomes WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []types.DayOutcome
	for rows.Next() {
		var (
			o                        types.DayOutcome
			date, status             string
			mapping, added, rejected string
			errText                  sql.NullString
		)
		if err := rows.Scan(&date, &o.Items, &o.Clusters, &status, &mapping, &added, &rejected, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if o.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("invalid outcome date %q: %w", date, err)
		}
		o.Status = types.DayStatus(status)
		if o.Mapping, err = decodeMapping(mapping); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(added), &o.Added); err != nil {
			return nil, fmt.Errorf("invalid added topics for %s: %w", date, err)
		}
		if err := json.Unmarshal([]byte(rejected), &o.Rejected); err != nil {
			return nil, fmt.Errorf("invalid rejected topics for %s: %w", date, err)
		}
		o.Error = errText.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Observations returns a run's observations ordered by date, then topic
func (s *Store) Observations(ctx context.Context, runID string) ([]trend.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, topic, count FROM observations WHERE run_id = ? ORDER BY date, topic`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []trend.Observation
	for rows.Next() {
		var (
			obs  trend.Observation
			date string
		)
		if err := rows.Scan(&date, &obs.Topic, &obs.Count); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if obs.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("invalid observation date %q: %w", date, err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// Taxonomy returns a run's topics in the order they were admitted, seed first
func (s *Store) Taxonomy(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic FROM taxonomy_entries WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxonomy: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// mapping is stored as a JSON array of {"cluster": id, "topic": name}, ordered by cluster
type mappingEntry struct {
	Cluster int    `json:"cluster"`
	Topic   string `json:"topic"`
}

func encodeMapping(mapping map[int]string) (string, error) {
	entries := make([]mappingEntry, 0, len(mapping))
	for id, topic := range mapping {
		entries = append(entries, mappingEntry{Cluster: id, Topic: topic})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Cluster < entries[j].Cluster })

	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode mapping: %w", err)
	}
	return string(data), nil
}

func decodeMapping(data string) (map[int]string, error) {
	var entries []mappingEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("invalid stored mapping: %w", err)
	}
	mapping := make(map[int]string, len(entries))
	for _, e := range entries {
		mapping[e.Cluster] = e.Topic
	}
	return mapping, nil
}

func nullableDate(d civil.Date) any {
	if !d.IsValid() {
		return nil
	}
	return d.String()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
