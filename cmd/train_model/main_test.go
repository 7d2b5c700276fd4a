package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smartpark/db"
	"smartpark/ml"
)

func writeDataset(t *testing.T, path string, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,duration,cost,occupancy_rate,time_of_day,day_of_week,is_weekend,discount_rate\n")
	for i := 0; i < rows; i++ {
		day := i % 7
		weekend := 0
		if day >= 5 {
			weekend = 1
		}
		occupancy := float64((i * 37) % 100)
		rate := 0.3 - 0.0025*occupancy + 0.02*float64(weekend)
		fmt.Fprintf(&b, "2024-05-%02d %02d:00:00,%d,%d,%v,%d,%d,%d,%v\n",
			1+i%28, i%24, 30+(i*13)%180, 5+(i*7)%20, occupancy, (i*5)%24, day, weekend, rate)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

const smallConfig = `
training:
  folds: 3
  workers: 2
  grid:
    n_estimators: [5]
    max_depth: [0, 4]
    min_samples_split: [2]
cache:
  backend: none
log:
  level: warn
`

func TestRunTrainsAndSaves(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	dataPath := filepath.Join(dir, "parking.csv")
	outPath := filepath.Join(dir, "models", "parking_model.json")
	dbPath := filepath.Join(dir, "ledger.db")
	writeDataset(t, dataPath, 140)
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(smallConfig+"database:\n  path: "+dbPath+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-config", configPath, "-data", dataPath, "-out", outPath}, &stdout)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"Best parameters: {max_depth:", "Test MSE:", "model saved to " + outPath} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}

	artifact, err := ml.LoadArtifact(outPath)
	if err != nil {
		t.Fatalf("artifact not loadable: %v", err)
	}
	if artifact.TrainSamples != 112 || artifact.TestSamples != 28 {
		t.Errorf("samples = %d/%d, want 112/28", artifact.TrainSamples, artifact.TestSamples)
	}

	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	recorded, err := store.FindTrainingRun(context.Background(), artifact.RunID)
	if err != nil {
		t.Fatalf("training run not recorded: %v", err)
	}
	if len(recorded.CVResults) != 2 || recorded.TestMSE != artifact.TestMSE {
		t.Errorf("unexpected ledger row: %+v", recorded)
	}
}

func TestRunCleansWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	dataPath := filepath.Join(dir, "parking.csv")
	writeDataset(t, dataPath, 140)
	f, err := os.OpenFile(dataPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("2024-06-01 10:00:00,-5,10,50,10,1,0,0.2\n")
	f.Close()

	configPath := filepath.Join(dir, "config.yaml")
	cfg := strings.Replace(smallConfig, "training:\n", "training:\n  clean: true\n", 1)
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	processStdout := redirect(t, &os.Stdout)
	processStderr := redirect(t, &os.Stderr)

	outPath := filepath.Join(dir, "model.json")
	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"-config", configPath, "-data", dataPath, "-out", outPath}, &stdout); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	artifact, err := ml.LoadArtifact(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if total := artifact.TrainSamples + artifact.TestSamples; total != 140 {
		t.Errorf("trained on %d rows, want 140 after cleaning", total)
	}

	logs, _ := os.ReadFile(processStderr.Name())
	if !strings.Contains(string(logs), "row dropped") || !strings.Contains(string(logs), "duration_range") {
		t.Errorf("dropped row not logged to stderr: %s", logs)
	}
	if leaked, _ := os.ReadFile(processStdout.Name()); len(leaked) != 0 {
		t.Errorf("logs leaked onto stdout: %s", leaked)
	}
}

// redirect swaps *target for a temp file until the test ends.
func redirect(t *testing.T, target **os.File) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	old := *target
	*target = f
	t.Cleanup(func() {
		*target = old
		f.Close()
	})
	return f
}

func TestRunFailures(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	badCSV := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(badCSV, []byte("duration,cost\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := map[string][]string{
		"missing data file": {"-data", filepath.Join(dir, "missing.csv")},
		"missing columns":   {"-data", badCSV},
		"unknown flag":      {"-symbol", "sh600000"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(dir, name+".json")
			err := run(context.Background(), append(args, "-out", out), &bytes.Buffer{})
			if err == nil {
				t.Fatal("expected error")
			}
			if _, statErr := os.Stat(out); statErr == nil {
				t.Error("artifact written despite failure")
			}
		})
	}
}
