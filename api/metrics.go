package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "fieldtask-api"
	commandSpanName    = "fieldtask.api.command"
	commandEventName   = "fieldtask.command.request"
	commandEventDomain = "fieldtask"
)

// commandMetrics captures per-request timings for a lifecycle command and
// emits them both as an otel span and as a structured "observability.event"
// log record, so traces and logs carry the same attributes.
type commandMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route  string
	taskID string

	authDuration    time.Duration
	executeDuration time.Duration
	errorStage      string
}

func newCommandMetrics(ctx context.Context, logger *log.Logger, route string) (*commandMetrics, context.Context) {
	tracer := otel.Tracer(tracerName)
	spanCtx, span := tracer.Start(ctx, commandSpanName,
		trace.WithAttributes(attribute.String("http.route", route)))
	return &commandMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
	}, spanCtx
}

func (m *commandMetrics) SetTaskID(id string)            { m.taskID = id }
func (m *commandMetrics) ObserveAuth(d time.Duration)    { m.authDuration = d }
func (m *commandMetrics) ObserveExecute(d time.Duration) { m.executeDuration = d }
func (m *commandMetrics) SetErrorStage(stage string)     { m.errorStage = stage }

// Log finalizes the span and writes the observability event. It must be
// called exactly once per request.
func (m *commandMetrics) Log(status int, err error) {
	total := time.Since(m.start)
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":                 m.route,
		"fieldtask.command.total_ms": durationToMillis(total),
		"fieldtask.command.auth_ms":  durationToMillis(m.authDuration),
		"fieldtask.command.exec_ms":  durationToMillis(m.executeDuration),
	}
	if m.taskID != "" {
		attrs["fieldtask.command.task_id"] = m.taskID
	}
	if m.errorStage != "" {
		attrs["fieldtask.command.error_stage"] = m.errorStage
	}

	spanAttrs := []attribute.KeyValue{
		attribute.String("event.name", commandEventName),
		attribute.String("event.domain", commandEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.Float64("fieldtask.command.total_ms", durationToMillis(total)),
		attribute.Float64("fieldtask.command.auth_ms", durationToMillis(m.authDuration)),
		attribute.Float64("fieldtask.command.exec_ms", durationToMillis(m.executeDuration)),
	}
	if m.taskID != "" {
		spanAttrs = append(spanAttrs, attribute.String("fieldtask.command.task_id", m.taskID))
	}
	if m.errorStage != "" {
		spanAttrs = append(spanAttrs, attribute.String("fieldtask.command.error_stage", m.errorStage))
	}
	if err != nil {
		spanAttrs = append(spanAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.AddEvent("observability.event", trace.WithAttributes(spanAttrs...))

	m.span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.String("fieldtask.command.error_stage", m.errorStage),
	)
	if err != nil || status >= http.StatusInternalServerError {
		desc := severityText
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	fields := log.Fields{
		"event.name":      commandEventName,
		"event.domain":    commandEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}
