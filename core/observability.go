package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeFailure     = "failure"
)

// operationEvent is one observed orchestrator call. Fields go to the log line,
// tags to metrics; account ids stay out of tags.
type operationEvent struct {
	operation string
	outcome   string
	elapsed   time.Duration
	fields    map[string]any
	tags      map[string]string
}

func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	event := newOperationEvent(operation, s.now().Sub(startedAt), err, fields)

	s.recordCounter(ctx, metricName(event.operation, "total"), 1, event.tags)
	s.recordHistogram(ctx, metricName(event.operation, "duration_ms"), float64(event.elapsed.Milliseconds()), event.tags)

	switch event.outcome {
	case outcomeSuccess:
		s.logInfo(ctx, event.operation+" succeeded", event.fields)
	case outcomeRateLimited:
		s.logWarn(ctx, event.operation+" rate limited", event.fields)
	default:
		s.logError(ctx, event.operation+" failed", event.fields)
	}
}

func newOperationEvent(operation string, elapsed time.Duration, err error, fields map[string]any) operationEvent {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	event := operationEvent{
		operation: operation,
		outcome:   operationOutcome(err),
		elapsed:   elapsed,
		fields:    cloneFields(fields),
		tags:      map[string]string{"operation": operation},
	}
	event.tags["status"] = event.outcome
	event.fields["event_type"] = operation
	event.fields["status"] = event.outcome
	event.fields["duration_ms"] = elapsed.Milliseconds()

	if platform, ok := event.fields["platform"].(string); ok && strings.TrimSpace(platform) != "" {
		event.tags["platform"] = strings.TrimSpace(platform)
	}
	if err == nil {
		return event
	}

	event.fields["error"] = err.Error()
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		event.fields["error_category"] = richErr.Category.String()
		event.fields["error_text_code"] = richErr.TextCode
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified != nil {
		event.fields["error_kind"] = string(classified.Info.Kind)
		event.fields["retryable"] = classified.Info.Retryable
		event.fields["attempts"] = classified.Attempts
	}
	var limited *RateLimitExceededError
	if errors.As(err, &limited) && limited != nil && limited.RetryAfter > 0 {
		event.fields["retry_after_seconds"] = limited.RetryAfterSeconds()
	}
	return event
}

// operationOutcome separates admission refusals from real failures so rate
// limiting does not page as an error.
func operationOutcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var limited *RateLimitExceededError
	if errors.As(err, &limited) {
		return outcomeRateLimited
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryRateLimit {
		return outcomeRateLimited
	}
	return outcomeFailure
}

func metricName(operation, suffix string) string {
	return "autoreply." + operation + "." + suffix
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, "info", message, fields)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, "warn", message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, "error", message, fields)
}

func (s *Service) log(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

// FlattenFields turns a field map into sorted key/value log args.
func FlattenFields(fields map[string]any) []any {
	return flattenFields(fields)
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	return strings.ReplaceAll(operation, "-", "_")
}

// NopMetricsRecorder drops every sample.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
