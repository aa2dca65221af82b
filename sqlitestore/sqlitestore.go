// Package sqlitestore persists studies and trials in a SQLite file so that a
// study can be resumed, inspected from the command line, or shared by
// several processes on one machine.
package sqlitestore

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/thalesfsp/hpo"
)

//////
// Const, vars, types.
//////

const (
	attrUser   = "user"
	attrSystem = "system"
)

const schema = `
CREATE TABLE IF NOT EXISTS studies (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL UNIQUE,
	direction INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	study_id TEXT NOT NULL REFERENCES studies(id),
	number INTEGER NOT NULL,
	state INTEGER NOT NULL,
	value REAL,
	datetime_start INTEGER NOT NULL,
	datetime_complete INTEGER,
	PRIMARY KEY (study_id, number)
);

CREATE TABLE IF NOT EXISTS trial_params (
	study_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	name TEXT NOT NULL,
	internal REAL NOT NULL,
	distribution TEXT NOT NULL,
	PRIMARY KEY (study_id, number, name)
);

CREATE TABLE IF NOT EXISTS trial_values (
	study_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	step INTEGER NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (study_id, number, step)
);

CREATE TABLE IF NOT EXISTS trial_attrs (
	study_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	value_json TEXT NOT NULL,
	PRIMARY KEY (study_id, number, kind, key)
);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements hpo.Storage on top of a SQLite database.
//
// Trial numbers are assigned inside a transaction, so concurrent workers of
// one process never share a number. A single connection is used; SQLite
// serializes writers anyway.
type Store struct {
	db   *sql.DB
	path string

	// mu serializes read-modify-write transactions.
	mu sync.Mutex
}

//////
// Methods.
//////

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateStudy implements hpo.Storage.
func (s *Store) CreateStudy(ctx context.Context, name string, direction hpo.Direction) (string, error) {
	if err := direction.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if name == "" {
		name = "no-name-" + id
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int

		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM studies WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return err
		}

		if exists > 0 {
			return fmt.Errorf("%w: %q", hpo.ErrDuplicateStudy, name)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO studies (id, name, direction, created_at) VALUES (?, ?, ?, ?)`,
			id, name, int(direction), time.Now().UnixNano(),
		)

		return err
	})
	if err != nil {
		return "", fmt.Errorf("sqlite: create study: %w", err)
	}

	return id, nil
}

// GetStudy implements hpo.Storage.
func (s *Store) GetStudy(ctx context.Context, studyID string) (hpo.StudyRecord, error) {
	var (
		record    hpo.StudyRecord
		direction int
		created   int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, direction, created_at FROM studies WHERE id = ?`, studyID,
	).Scan(&record.ID, &record.Name, &direction, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.StudyRecord{}, fmt.Errorf("%w: %s", hpo.ErrStudyNotFound, studyID)
	}

	if err != nil {
		return hpo.StudyRecord{}, fmt.Errorf("sqlite: get study: %w", err)
	}

	record.Direction = hpo.Direction(direction)
	record.CreatedAt = time.Unix(0, created)

	return record, nil
}

// GetStudyByName returns the study called name, or hpo.ErrStudyNotFound.
func (s *Store) GetStudyByName(ctx context.Context, name string) (hpo.StudyRecord, error) {
	var id string

	err := s.db.QueryRowContext(ctx, `SELECT id FROM studies WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.StudyRecord{}, fmt.Errorf("%w: %q", hpo.ErrStudyNotFound, name)
	}

	if err != nil {
		return hpo.StudyRecord{}, fmt.Errorf("sqlite: get study: %w", err)
	}

	return s.GetStudy(ctx, id)
}

// ListStudies implements hpo.Storage.
func (s *Store) ListStudies(ctx context.Context) ([]hpo.StudyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, direction, created_at FROM studies ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list studies: %w", err)
	}
	defer rows.Close()

	var out []hpo.StudyRecord

	for rows.Next() {
		var (
			record    hpo.StudyRecord
			direction int
			created   int64
		)

		if err := rows.Scan(&record.ID, &record.Name, &direction, &created); err != nil {
			return nil, fmt.Errorf("sqlite: list studies: %w", err)
		}

		record.Direction = hpo.Direction(direction)
		record.CreatedAt = time.Unix(0, created)
		out = append(out, record)
	}

	return out, rows.Err()
}

// CreateTrial implements hpo.Storage.
func (s *Store) CreateTrial(ctx context.Context, studyID string) (int, error) {
	var number int

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := studyExists(ctx, tx, studyID); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(number) + 1, 0) FROM trials WHERE study_id = ?`, studyID,
		).Scan(&number)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO trials (study_id, number, state, datetime_start) VALUES (?, ?, ?, ?)`,
			studyID, number, int(hpo.TrialRunning), time.Now().UnixNano(),
		)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite: create trial: %w", err)
	}

	return number, nil
}

// SetTrialParam implements hpo.Storage.
func (s *Store) SetTrialParam(ctx context.Context, studyID string, trialID int, name string, internal float64, d hpo.Distribution) error {
	encoded, err := hpo.DistributionToJSON(d)
	if err != nil {
		return err
	}

	return s.updateRunning(ctx, studyID, trialID, func(tx *sql.Tx) error {
		var (
			prevInternal float64
			prevEncoded  string
		)

		err := tx.QueryRowContext(ctx,
			`SELECT internal, distribution FROM trial_params WHERE study_id = ? AND number = ? AND name = ?`,
			studyID, trialID, name,
		).Scan(&prevInternal, &prevEncoded)

		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			prev, err := hpo.DistributionFromJSON(prevEncoded)
			if err != nil {
				return err
			}

			if !prev.Equal(d) || prevInternal != internal {
				return fmt.Errorf("parameter %q already set in trial %d", name, trialID)
			}

			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO trial_params (study_id, number, name, internal, distribution) VALUES (?, ?, ?, ?, ?)`,
			studyID, trialID, name, internal, encoded,
		)

		return err
	})
}

// SetTrialIntermediateValue implements hpo.Storage.
func (s *Store) SetTrialIntermediateValue(ctx context.Context, studyID string, trialID, step int, value float64) error {
	return s.updateRunning(ctx, studyID, trialID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO trial_values (study_id, number, step, value) VALUES (?, ?, ?, ?)`,
			studyID, trialID, step, value,
		)

		return err
	})
}

// SetTrialUserAttr implements hpo.Storage.
func (s *Store) SetTrialUserAttr(ctx context.Context, studyID string, trialID int, key string, value any) error {
	return s.setAttr(ctx, studyID, trialID, attrUser, key, value)
}

// SetTrialSystemAttr implements hpo.Storage.
func (s *Store) SetTrialSystemAttr(ctx context.Context, studyID string, trialID int, key string, value any) error {
	return s.setAttr(ctx, studyID, trialID, attrSystem, key, value)
}

// FinishTrial implements hpo.Storage. The value and the state are written
// in one statement.
func (s *Store) FinishTrial(ctx context.Context, studyID string, trialID int, state hpo.TrialState, value *float64) error {
	if !state.IsFinished() {
		return fmt.Errorf("finish trial %d: %s is not a terminal state", trialID, state)
	}

	if state == hpo.TrialComplete && value == nil {
		return fmt.Errorf("finish trial %d: complete trial needs a value", trialID)
	}

	var stored sql.NullFloat64
	if state == hpo.TrialComplete {
		stored = sql.NullFloat64{Float64: *value, Valid: true}
	}

	return s.updateRunning(ctx, studyID, trialID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE trials SET state = ?, value = ?, datetime_complete = ? WHERE study_id = ? AND number = ?`,
			int(state), stored, time.Now().UnixNano(), studyID, trialID,
		)

		return err
	})
}

// GetTrial implements hpo.Storage.
func (s *Store) GetTrial(ctx context.Context, studyID string, trialID int) (hpo.FrozenTrial, error) {
	trials, err := s.readTrials(ctx, studyID, &trialID)
	if err != nil {
		return hpo.FrozenTrial{}, err
	}

	if len(trials) == 0 {
		return hpo.FrozenTrial{}, fmt.Errorf("%w: %d", hpo.ErrTrialNotFound, trialID)
	}

	return trials[0], nil
}

// GetAllTrials implements hpo.Storage.
func (s *Store) GetAllTrials(ctx context.Context, studyID string) ([]hpo.FrozenTrial, error) {
	return s.readTrials(ctx, studyID, nil)
}

func (s *Store) setAttr(ctx context.Context, studyID string, trialID int, kind, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s attr %q: %w", kind, key, err)
	}

	return s.updateRunning(ctx, studyID, trialID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO trial_attrs (study_id, number, kind, key, value_json) VALUES (?, ?, ?, ?, ?)`,
			studyID, trialID, kind, key, string(encoded),
		)

		return err
	})
}

// updateRunning runs fn in a transaction after checking that the trial
// exists and is still running.
func (s *Store) updateRunning(ctx context.Context, studyID string, trialID int, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state int

		err := tx.QueryRowContext(ctx,
			`SELECT state FROM trials WHERE study_id = ? AND number = ?`, studyID, trialID,
		).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			if err := studyExists(ctx, tx, studyID); err != nil {
				return err
			}

			return fmt.Errorf("%w: %d", hpo.ErrTrialNotFound, trialID)
		}

		if err != nil {
			return err
		}

		if hpo.TrialState(state).IsFinished() {
			return fmt.Errorf("%w: trial %d is %s", hpo.ErrTrialFinished, trialID, hpo.TrialState(state))
		}

		return fn(tx)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

// readTrials loads the trials of a study, or only trial only when it's
// non-nil, in number order. All queries run in one transaction so that a
// trial is never read half-updated.
func (s *Store) readTrials(ctx context.Context, studyID string, only *int) ([]hpo.FrozenTrial, error) {
	filter, args := "", []any{studyID}
	if only != nil {
		filter, args = " AND number = ?", append(args, *only)
	}

	var trials []hpo.FrozenTrial

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := studyExists(ctx, tx, studyID); err != nil {
			return err
		}

		read, index, err := scanTrials(ctx, tx, filter, args)
		if err != nil {
			return err
		}

		if err := scanParams(ctx, tx, filter, args, read, index); err != nil {
			return err
		}

		if err := scanValues(ctx, tx, filter, args, read, index); err != nil {
			return err
		}

		if err := scanAttrs(ctx, tx, filter, args, read, index); err != nil {
			return err
		}

		trials = read

		return nil
	})
	if err != nil {
		return nil, err
	}

	return trials, nil
}

//////
// Helpers.
//////

func studyExists(ctx context.Context, q querier, studyID string) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM studies WHERE id = ?`, studyID).Scan(&n); err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", hpo.ErrStudyNotFound, studyID)
	}

	return nil
}

func scanTrials(ctx context.Context, q querier, filter string, args []any) ([]hpo.FrozenTrial, map[int]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT number, state, value, datetime_start, datetime_complete FROM trials WHERE study_id = ?`+filter+` ORDER BY number`,
		args...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: read trials: %w", err)
	}
	defer rows.Close()

	var (
		trials []hpo.FrozenTrial
		index  = map[int]int{}
	)

	for rows.Next() {
		var (
			number, state int
			value         sql.NullFloat64
			start         int64
			complete      sql.NullInt64
		)

		if err := rows.Scan(&number, &state, &value, &start, &complete); err != nil {
			return nil, nil, fmt.Errorf("sqlite: read trials: %w", err)
		}

		t := hpo.FrozenTrial{
			ID:                 number,
			State:              hpo.TrialState(state),
			Params:             map[string]any{},
			ParamsInternal:     map[string]float64{},
			Distributions:      map[string]hpo.Distribution{},
			UserAttrs:          map[string]any{},
			SystemAttrs:        map[string]any{},
			IntermediateValues: map[int]float64{},
			DatetimeStart:      time.Unix(0, start),
		}

		if value.Valid {
			v := value.Float64
			t.Value = &v
		}

		if complete.Valid {
			t.DatetimeComplete = time.Unix(0, complete.Int64)
		}

		index[number] = len(trials)
		trials = append(trials, t)
	}

	return trials, index, rows.Err()
}

func scanParams(ctx context.Context, q querier, filter string, args []any, trials []hpo.FrozenTrial, index map[int]int) error {
	rows, err := q.QueryContext(ctx,
		`SELECT number, name, internal, distribution FROM trial_params WHERE study_id = ?`+filter,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: read params: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			number   int
			name     string
			internal float64
			encoded  string
		)

		if err := rows.Scan(&number, &name, &internal, &encoded); err != nil {
			return fmt.Errorf("sqlite: read params: %w", err)
		}

		d, err := hpo.DistributionFromJSON(encoded)
		if err != nil {
			return fmt.Errorf("sqlite: param %q of trial %d: %w", name, number, err)
		}

		i, ok := index[number]
		if !ok {
			continue
		}

		trials[i].Distributions[name] = d
		trials[i].ParamsInternal[name] = internal
		trials[i].Params[name] = d.ToExternal(internal)
	}

	return rows.Err()
}

func scanValues(ctx context.Context, q querier, filter string, args []any, trials []hpo.FrozenTrial, index map[int]int) error {
	rows, err := q.QueryContext(ctx,
		`SELECT number, step, value FROM trial_values WHERE study_id = ?`+filter,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: read intermediate values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			number, step int
			value        float64
		)

		if err := rows.Scan(&number, &step, &value); err != nil {
			return fmt.Errorf("sqlite: read intermediate values: %w", err)
		}

		if i, ok := index[number]; ok {
			trials[i].IntermediateValues[step] = value
		}
	}

	return rows.Err()
}

func scanAttrs(ctx context.Context, q querier, filter string, args []any, trials []hpo.FrozenTrial, index map[int]int) error {
	rows, err := q.QueryContext(ctx,
		`SELECT number, kind, key, value_json FROM trial_attrs WHERE study_id = ?`+filter,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: read attrs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			number         int
			kind, key, raw string
		)

		if err := rows.Scan(&number, &kind, &key, &raw); err != nil {
			return fmt.Errorf("sqlite: read attrs: %w", err)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("sqlite: decode attr %q: %w", key, err)
		}

		i, ok := index[number]
		if !ok {
			continue
		}

		if kind == attrSystem {
			trials[i].SystemAttrs[key] = value
		} else {
			trials[i].UserAttrs[key] = value
		}
	}

	return rows.Err()
}

//////
// Factory.
//////

// New opens, creating if needed, the SQLite database at path.
//
// Usage example:
//
//	store, err := sqlitestore.New("studies.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	study, err := hpo.CreateStudy(ctx, hpo.WithStorage(store))
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`, schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("sqlite: initialize schema: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}
