package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"smartpark/ml"
)

var ErrRunNotFound = errors.New("training run not found")

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_type VARCHAR(50) NOT NULL,
        data_path TEXT,
        artifact_path TEXT,
        best_params TEXT NOT NULL,
        cv_mse REAL,
        test_mse REAL,
        train_samples INTEGER,
        test_samples INTEGER,
        format_version INTEGER,
        duration_ms INTEGER,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS cv_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        params TEXT NOT NULL,
        mean_mse REAL,
        fold_mse TEXT,
        FOREIGN KEY (run_id) REFERENCES training_runs(run_id)
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_trained_at ON training_runs(trained_at);
    CREATE INDEX IF NOT EXISTS idx_cv_results_run ON cv_results(run_id);
    `

// TrainingRun is one row of the training ledger.
type TrainingRun struct {
	RunID         string          `json:"run_id"`
	ModelType     string          `json:"model_type"`
	DataPath      string          `json:"data_path"`
	ArtifactPath  string          `json:"artifact_path"`
	BestParams    ml.ForestParams `json:"best_params"`
	CVMSE         float64         `json:"cv_mse"`
	TestMSE       float64         `json:"test_mse"`
	TrainSamples  int             `json:"train_samples"`
	TestSamples   int             `json:"test_samples"`
	FormatVersion int             `json:"format_version"`
	Duration      time.Duration   `json:"duration"`
	TrainedAt     time.Time       `json:"trained_at"`
	CVResults     []ml.CVResult   `json:"cv_results,omitempty"`
}

type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite ledger at path.
func Open(path string) (*Store, error) {
	database, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTrainingRun stores the run and its grid-search scores in one transaction.
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun) error {
	if run.RunID == "" {
		return errors.New("run id required")
	}
	params, err := json.Marshal(run.BestParams)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO training_runs (
            run_id, model_type, data_path, artifact_path, best_params,
            cv_mse, test_mse, train_samples, test_samples, format_version,
            duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ModelType, run.DataPath, run.ArtifactPath, string(params),
		run.CVMSE, run.TestMSE, run.TrainSamples, run.TestSamples, run.FormatVersion,
		run.Duration.Milliseconds(), run.TrainedAt.UTC())
	if err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO cv_results (run_id, params, mean_mse, fold_mse)
        VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, result := range run.CVResults {
		resultParams, err := json.Marshal(result.Params)
		if err != nil {
			tx.Rollback()
			return err
		}
		folds, err := json.Marshal(result.FoldMSE)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.RunID, string(resultParams), result.MeanMSE, string(folds)); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LoadTrainingRuns returns the newest runs first, without their CV scores.
func (s *Store) LoadTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, model_type, data_path, artifact_path, best_params,
               cv_mse, test_mse, train_samples, test_samples, format_version,
               duration_ms, trained_at
        FROM training_runs
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FindTrainingRun loads a single run with its CV scores.
func (s *Store) FindTrainingRun(ctx context.Context, runID string) (*TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT run_id, model_type, data_path, artifact_path, best_params,
               cv_mse, test_mse, train_samples, test_samples, format_version,
               duration_ms, trained_at
        FROM training_runs
        WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT params, mean_mse, fold_mse
        FROM cv_results
        WHERE run_id = ?
        ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			params string
			folds  string
			result ml.CVResult
		)
		if err := rows.Scan(&params, &result.MeanMSE, &folds); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(folds), &result.FoldMSE); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &result.Params); err != nil {
			return nil, err
		}
		run.CVResults = append(run.CVResults, result)
	}
	return &run, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (TrainingRun, error) {
	var (
		run        TrainingRun
		params     string
		durationMS int64
	)
	err := row.Scan(&run.RunID, &run.ModelType, &run.DataPath, &run.ArtifactPath, &params,
		&run.CVMSE, &run.TestMSE, &run.TrainSamples, &run.TestSamples, &run.FormatVersion,
		&durationMS, &run.TrainedAt)
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal([]byte(params), &run.BestParams); err != nil {
		return run, fmt.Errorf("decode best params of %s: %w", run.RunID, err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
