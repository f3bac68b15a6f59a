package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// MetricsMarker prefixes every metrics record so log scrapers can find it.
const MetricsMarker = "[METRICS]"

type MetricsEmitter struct {
	logger *slog.Logger
}

// NewMetricsEmitter returns an emitter writing through logger. A nil logger
// makes Emit a no-op.
func NewMetricsEmitter(logger *slog.Logger) *MetricsEmitter {
	return &MetricsEmitter{logger: logger}
}

// Emit writes metrics as a single info record. It never fails the caller.
func (e *MetricsEmitter) Emit(metrics map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	e.logger.Log(context.Background(), slog.LevelInfo, FormatMetrics(metrics))
}

// FormatMetrics renders the record message: marker, space, JSON object with
// sorted keys.
func FormatMetrics(metrics map[string]any) string {
	if metrics == nil {
		metrics = map[string]any{}
	}
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Sprintf("%s %v", MetricsMarker, metrics)
	}
	return MetricsMarker + " " + string(encoded)
}
