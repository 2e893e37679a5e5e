// Package telemetry provides observability instrumentation for opentweak.
//
// It integrates structured logging (zerolog) and metrics (Prometheus) into
// one place so engine components share a consistent instrumentation surface.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	if err != nil {
//	    panic(err)
//	}
//	metrics, err := telemetry.NewMetrics(cfg.Metrics)
//	if err != nil {
//	    panic(err)
//	}
//
// Component loggers carry structured context:
//
//	log := logger.NewComponentLogger("detector")
//	log = log.WithTweakID("disable-telemetry")
//	log.Info("evaluating detection rules")
//	log.WithError(err).Warn("probe failed, using fallback")
//
// Key metrics exposed when enabled:
//
//   - opentweak_detections_total{verdict}
//   - opentweak_detection_duration_seconds{verdict}
//   - opentweak_executions_total{action,status}
//   - opentweak_execution_duration_seconds{action}
//   - opentweak_operations_total{type,status}
//   - opentweak_batches_started_total{action}
//   - opentweak_batches_completed_total{action,status}
//   - opentweak_status_cache_refreshes_total
//   - opentweak_pending_changes
//   - opentweak_errors_by_class_total{class}
//
// Metrics are exposed via HTTP at /metrics (default :9090) when enabled.
package telemetry
