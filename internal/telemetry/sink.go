package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/maestro/internal/privacy"
	"github.com/thebtf/maestro/pkg/models"
)

// Publisher receives recorded events for live fan-out (SSE dashboards).
// Implementations must not block; delivery is best-effort.
type Publisher interface {
	Broadcast(data interface{})
}

// InvokeFunc is the shape of an instrumented tool invocation: the external
// AI call supplied by the caller. The core never calls a provider directly.
type InvokeFunc func(ctx context.Context, input models.JSONMap) (models.JSONMap, *models.Usage, error)

// Sink records telemetry events. Record never returns an error to the
// caller: a telemetry write failure must not block or fail the operation
// it observes.
type Sink struct {
	store     Store
	publisher Publisher

	eventCounter metric.Int64Counter
	latencyHist  metric.Int64Histogram
	tokenCounter metric.Int64Counter
}

// Option configures a Sink.
type Option func(*Sink)

// WithPublisher attaches a live event publisher (e.g. the SSE broadcaster).
func WithPublisher(p Publisher) Option {
	return func(s *Sink) { s.publisher = p }
}

// NewSink creates a Sink backed by the given store.
// Metrics use the global MeterProvider; configure it via
// otel.SetMeterProvider before recording.
func NewSink(store Store, opts ...Option) *Sink {
	meter := otel.Meter("github.com/thebtf/maestro/internal/telemetry")

	eventCounter, _ := meter.Int64Counter("maestro.telemetry.events",
		metric.WithDescription("Telemetry events recorded, by type"))
	latencyHist, _ := meter.Int64Histogram("maestro.tool.latency",
		metric.WithDescription("Tool invocation latency"),
		metric.WithUnit("ms"))
	tokenCounter, _ := meter.Int64Counter("maestro.tool.tokens",
		metric.WithDescription("Tokens consumed by tool invocations"))

	s := &Sink{
		store:        store,
		eventCounter: eventCounter,
		latencyHist:  latencyHist,
		tokenCounter: tokenCounter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends the event to the backing store. Internal failures are
// logged and swallowed; the instrumented operation is never blocked.
func (s *Sink) Record(ctx context.Context, event *models.TelemetryEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if !event.Type.Valid() {
		log.Warn().Str("eventType", string(event.Type)).Msg("Unknown telemetry event type")
	}

	if err := s.store.Append(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("eventType", string(event.Type)).
			Str("sessionId", event.SessionID).
			Msg("Failed to record telemetry event")
	}

	attrs := metric.WithAttributes(
		attribute.String("event_type", string(event.Type)),
		attribute.String("tool_id", event.ToolID),
		attribute.Bool("success", event.Success),
	)
	s.eventCounter.Add(ctx, 1, attrs)
	if event.LatencyMS > 0 {
		s.latencyHist.Record(ctx, event.LatencyMS, attrs)
	}
	if event.TokensUsed > 0 {
		s.tokenCounter.Add(ctx, event.TokensUsed, attrs)
	}

	if s.publisher != nil {
		s.publisher.Broadcast(event)
	}
}

// Summarize aggregates the telemetry recorded for one session. Pure read.
func (s *Sink) Summarize(ctx context.Context, sessionID string) (*models.TelemetrySummary, error) {
	events, err := s.store.BySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := &models.TelemetrySummary{
		SessionID:    sessionID,
		EventsByType: make(map[models.EventType]int64),
	}

	var successes int64
	for _, e := range events {
		summary.TotalEvents++
		summary.EventsByType[e.Type]++
		if e.Type == models.EventToolInvoked {
			summary.ToolInvocations++
		}
		if e.Success {
			successes++
		}
		summary.TotalLatencyMS += e.LatencyMS
		summary.TotalTokens += e.TokensUsed
		summary.TotalCostUSD += e.CostUSD
	}
	if summary.TotalEvents > 0 {
		summary.SuccessRate = float64(successes) / float64(summary.TotalEvents)
	}
	return summary, nil
}

// Wrap instruments a tool invocation: it measures wall-clock latency and
// records a tool_invoked event whether fn succeeds or fails. The wrapped
// function's result and error pass through untouched; telemetry recording
// never suppresses or alters the underlying error.
func (s *Sink) Wrap(fn InvokeFunc, toolID, sessionID string) InvokeFunc {
	return func(ctx context.Context, input models.JSONMap) (models.JSONMap, *models.Usage, error) {
		start := time.Now()
		output, usage, err := fn(ctx, input)
		latency := time.Since(start).Milliseconds()

		// Usage stays off this event: the step completion records it, and
		// carrying it here too would double-count in session summaries.
		event := &models.TelemetryEvent{
			Type:      models.EventToolInvoked,
			ToolID:    toolID,
			SessionID: sessionID,
			LatencyMS: latency,
			Success:   err == nil,
		}
		if err != nil {
			event.ErrorMessage = privacy.DisplaySafe(err.Error())
		}
		s.Record(ctx, event)

		return output, usage, err
	}
}
