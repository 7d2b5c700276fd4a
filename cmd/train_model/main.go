package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartpark/config"
	"smartpark/db"
	"smartpark/logger"
	"smartpark/ml"
	"smartpark/pipeline"
)

const maxLoggedIssues = 50

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "train_model: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("train_model", flag.ContinueOnError)
	configPath := flags.String("config", "config.yaml", "config file (optional)")
	dataPath := flags.String("data", "", "training CSV (default from config: parking_data_cleaned.csv)")
	outPath := flags.String("out", "", "artifact output path (default from config: parking_model.json)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dataPath != "" {
		cfg.Training.DataPath = *dataPath
	}
	if *outPath != "" {
		cfg.Training.ArtifactPath = *outPath
	}
	// stdout carries the training report
	cfg.Log.Output = config.LogOutputStderr

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	records, err := pipeline.LoadCSV(cfg.Training.DataPath)
	if err != nil {
		return err
	}
	log.Info("dataset loaded", zap.String("path", cfg.Training.DataPath), zap.Int("rows", len(records)))

	if cfg.Training.Clean {
		cleaner := pipeline.NewDataCleaner(log)
		records, _ = cleaner.Clean(records)

		stats := cleaner.GetStats()
		log.Info("cleaning summary",
			zap.Int64("processed", stats.TotalProcessed),
			zap.Int64("passed", stats.Passed),
			zap.Int64("rejected", stats.Rejected),
			zap.Any("issues_by_rule", stats.Issues))
		for _, issue := range cleaner.GetIssues(maxLoggedIssues) {
			log.Warn("row dropped",
				zap.Int("row", issue.Row),
				zap.String("rule", issue.Type),
				zap.String("reason", issue.Message))
		}
	}

	features, targets, preprocessor, err := ml.PrepareData(records)
	if err != nil {
		return err
	}

	trainer := ml.NewTrainer(cfg.Training.TrainerConfig(), log)
	result, err := trainer.Train(ctx, features, targets, preprocessor)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	fmt.Fprintf(stdout, "Best parameters: %s\n", result.BestParams)
	fmt.Fprintf(stdout, "Test MSE: %v\n", result.TestMSE)

	runID := uuid.NewString()
	trainedAt := time.Now()
	artifact := ml.NewArtifact(result, runID, trainedAt)
	if err := ml.SaveArtifact(cfg.Training.ArtifactPath, artifact); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	if cfg.Database.Path != "" {
		if err := recordRun(ctx, cfg, result, artifact); err != nil {
			// the artifact is already in place; the ledger is informational
			log.Error("failed to record training run", zap.String("run_id", runID), zap.Error(err))
		}
	}

	log.Info("training finished",
		zap.String("run_id", runID),
		zap.Duration("duration", result.Duration),
		zap.Float64("cv_mse", result.CVMSE),
		zap.Float64("test_mse", result.TestMSE))
	fmt.Fprintf(stdout, "model saved to %s\n", cfg.Training.ArtifactPath)
	return nil
}

func recordRun(ctx context.Context, cfg *config.Config, result *ml.TrainingResult, artifact *ml.Artifact) error {
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveTrainingRun(ctx, db.TrainingRun{
		RunID:         artifact.RunID,
		ModelType:     cfg.Model.Type,
		DataPath:      cfg.Training.DataPath,
		ArtifactPath:  cfg.Training.ArtifactPath,
		BestParams:    result.BestParams,
		CVMSE:         result.CVMSE,
		TestMSE:       result.TestMSE,
		TrainSamples:  result.TrainSamples,
		TestSamples:   result.TestSamples,
		FormatVersion: artifact.FormatVersion,
		Duration:      result.Duration,
		TrainedAt:     artifact.TrainedAt,
		CVResults:     result.CVResults,
	})
}
