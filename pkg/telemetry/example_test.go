package telemetry_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/opentweak/opentweak/pkg/telemetry"
)

// ExampleNewLogger demonstrates creating a structured logger and attaching
// component context to it.
func ExampleNewLogger() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}

	log := logger.NewComponentLogger("detector")
	log = log.WithTweakID("disable-telemetry")
	log.Info("evaluating detection rules")
	log.WithError(errors.New("probe unavailable")).Warn("using fallback verdict")

	fmt.Println("logger ready")
	// Output: logger ready
}

// ExampleNewMetrics demonstrates recording engine metrics. With metrics
// disabled every recorder is a no-op, so the same call sites work in
// every configuration.
func ExampleNewMetrics() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		panic(err)
	}

	metrics.RecordDetection("applied", 12*time.Millisecond)
	metrics.RecordExecution("apply", "success", 150*time.Millisecond)
	metrics.RecordOperation("config", "success")
	metrics.SetPendingChanges(3)

	fmt.Println("metrics recorded")
	// Output: metrics recorded
}
