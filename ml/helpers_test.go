package ml

var testDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// syntheticRecords builds a deterministic dataset whose discount rate falls
// linearly with occupancy, with a small weekend bonus.
func syntheticRecords(n int) []TrainingRecord {
	records := make([]TrainingRecord, 0, n)
	for i := 0; i < n; i++ {
		day := testDays[i%len(testDays)]
		weekend := "false"
		if day == "Sat" || day == "Sun" {
			weekend = "true"
		}
		occupancy := float64((i*37)%100) / 100
		duration := float64(15 + (i*13)%120)
		discount := 0.3 - 0.25*occupancy
		if weekend == "true" {
			discount += 0.02
		}
		records = append(records, TrainingRecord{
			FeatureRecord: FeatureRecord{
				Duration:      duration,
				Cost:          duration / 60 * 2.5,
				OccupancyRate: occupancy,
				TimeOfDay:     float64((i * 5) % 24),
				DayOfWeek:     day,
				IsWeekend:     weekend,
			},
			Timestamp:    "2024-01-01T00:00:00",
			DiscountRate: discount,
		})
	}
	return records
}

func smallTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TestRatio: 0.2,
		Seed:      42,
		Folds:     5,
		Grid: ParamGrid{
			NEstimators:     []int{5, 10},
			MaxDepth:        []int{0, 4},
			MinSamplesSplit: []int{2},
		},
		Workers: 2,
	}
}
