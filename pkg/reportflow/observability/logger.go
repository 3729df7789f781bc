// Package observability provides structured logging, metrics, and tracing
// for report chains.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing have no-op implementations for when they are disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds chain context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, reportID, "an3", 2)
//	enriched.Info("calling model") // includes report_id, stage, attempt
func EnrichLogger(logger *slog.Logger, reportID, stage string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("report_id", reportID),
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
	)
}

// LogChainStart logs the creation of a chain.
func LogChainStart(logger *slog.Logger, reportID, firstStage string) {
	if logger == nil {
		return
	}
	logger.Info("chain starting",
		slog.String("report_id", reportID),
		slog.String("first_stage", firstStage),
	)
}

// LogChainComplete logs a chain reaching its terminal stage.
func LogChainComplete(logger *slog.Logger, reportID string, stages int, costUSD float64) {
	if logger == nil {
		return
	}
	logger.Info("chain completed",
		slog.String("report_id", reportID),
		slog.Int("stages", stages),
		slog.Float64("cost_usd", costUSD),
	)
}

// LogChainFailed logs a chain moving to failed.
func LogChainFailed(logger *slog.Logger, reportID, stage, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Error("chain failed",
		slog.String("report_id", reportID),
		slog.String("stage", stage),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogChainCancelled logs a chain moving to cancelled.
func LogChainCancelled(logger *slog.Logger, reportID, stage string) {
	if logger == nil {
		return
	}
	logger.Info("chain cancelled",
		slog.String("report_id", reportID),
		slog.String("stage", stage),
	)
}

// LogClarification logs a chain parking for a clarification answer.
func LogClarification(logger *slog.Logger, reportID, stage string, round int) {
	if logger == nil {
		return
	}
	logger.Info("chain awaiting clarification",
		slog.String("report_id", reportID),
		slog.String("stage", stage),
		slog.Int("round", round),
	)
}

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger, stage string, maxTokens int) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("stage", stage),
		slog.Int("max_tokens", maxTokens),
	)
}

// LogStageComplete logs a stage whose output validated.
func LogStageComplete(logger *slog.Logger, stage string, attempts int, durationMs float64, strategy string) {
	if logger == nil {
		return
	}
	logger.Info("stage completed",
		slog.String("stage", stage),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
		slog.String("decode_strategy", strategy),
	)
}

// LogStageError logs a stage that failed for good.
func LogStageError(logger *slog.Logger, stage string, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// LogRetry logs an attempt that will be retried with a larger token tier.
func LogRetry(logger *slog.Logger, stage string, attempt, nextMaxTokens int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("stage attempt failed, retrying",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.Int("next_max_tokens", nextMaxTokens),
		slog.String("error", err.Error()),
	)
}

// LogRepair logs output that needed JSON repair.
func LogRepair(logger *slog.Logger, stage, strategy string, truncated bool) {
	if logger == nil {
		return
	}
	logger.Warn("model output repaired",
		slog.String("stage", stage),
		slog.String("strategy", strategy),
		slog.Bool("truncated", truncated),
	)
}

// TimedOperation measures the duration of an operation.
// The returned function reports the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
