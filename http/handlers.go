package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"smartpark/db"
	"smartpark/ml"
)

// RunLookup 查询训练记录（可选）
type RunLookup interface {
	FindTrainingRun(ctx context.Context, runID string) (*db.TrainingRun, error)
	LoadTrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// ModelInfo 模型元数据
type ModelInfo struct {
	RunID         string          `json:"run_id"`
	Kind          string          `json:"kind"`
	FormatVersion int             `json:"format_version"`
	TrainedAt     time.Time       `json:"trained_at"`
	BestParams    ml.ForestParams `json:"best_params"`
	CVMSE         float64         `json:"cv_mse"`
	TestMSE       float64         `json:"test_mse"`
	TrainSamples  int             `json:"train_samples"`
	TestSamples   int             `json:"test_samples"`
	Schema        ml.Schema       `json:"schema"`
	Features      []string        `json:"features"`
	TrainingRun   *db.TrainingRun `json:"training_run,omitempty"`
}

type modelHandlers struct {
	artifact *ml.Artifact
	runs     RunLookup
	started  time.Time
	logger   *zap.Logger
}

// handleHealth 服务只有在模型加载成功后才会启动，这里报告正在服务的模型
func (h *modelHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, map[string]interface{}{
		"status":         "ok",
		"run_id":         h.artifact.RunID,
		"trained_at":     h.artifact.TrainedAt,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *modelHandlers) handleModel(w http.ResponseWriter, r *http.Request) {
	a := h.artifact
	info := ModelInfo{
		RunID:         a.RunID,
		Kind:          a.Kind,
		FormatVersion: a.FormatVersion,
		TrainedAt:     a.TrainedAt,
		BestParams:    a.BestParams,
		CVMSE:         a.CVMSE,
		TestMSE:       a.TestMSE,
		TrainSamples:  a.TrainSamples,
		TestSamples:   a.TestSamples,
		Schema:        a.Schema,
		Features:      a.Pipeline.Preprocessor.FeatureNames(),
	}

	if h.runs != nil && a.RunID != "" {
		run, err := h.runs.FindTrainingRun(r.Context(), a.RunID)
		switch {
		case errors.Is(err, db.ErrRunNotFound):
		case err != nil:
			h.logger.Warn("training run lookup failed", zap.String("run_id", a.RunID), zap.Error(err))
		default:
			info.TrainingRun = run
		}
	}

	respondJSON(w, h.logger, info)
}

// handleRuns 最近的训练记录，新的在前
func (h *modelHandlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunsLimit {
			writeError(w, http.StatusBadRequest, KindSchemaMismatch,
				fmt.Sprintf("limit must be an integer between 1 and %d", maxRunsLimit))
			return
		}
		limit = n
	}

	runs, err := h.runs.LoadTrainingRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("training runs lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, KindInternalError, "internal server error")
		return
	}
	respondJSON(w, h.logger, map[string]interface{}{
		"runs": runs,
	})
}
