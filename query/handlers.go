package query

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/ratelimit"
	"github.com/goliatone/go-autoreply/resilience"
	"github.com/goliatone/go-autoreply/security"
)

type ConnectionReader interface {
	Status(accountID string) core.ConnectionStatus
	Connections() []core.Connection
}

type RateLimitReader interface {
	Status(accountID string) ratelimit.Report
}

type ErrorLogReader interface {
	Stats() resilience.ErrorStats
	Recent(limit int) []resilience.Record
}

type SecurityReader interface {
	SecurityStatus(ctx context.Context) (security.Status, error)
}

// ErrorStatsResult is the aggregate view plus the newest records requested.
type ErrorStatsResult struct {
	resilience.ErrorStats
	Latest []resilience.Record `json:"latest,omitempty"`
}

type ConnectionStatusQuery struct {
	reader ConnectionReader
}

func NewConnectionStatusQuery(reader ConnectionReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(_ context.Context, msg ConnectionStatusMessage) (core.ConnectionStatus, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatus{}, core.MissingDependencyError("query", "connection reader")
	}
	return q.reader.Status(msg.AccountID), nil
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

// Query reports the status of every stored connection. Tokens never leave the service.
func (q *ListConnectionsQuery) Query(_ context.Context, _ ListConnectionsMessage) ([]core.ConnectionStatus, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependencyError("query", "connection reader")
	}
	connections := q.reader.Connections()
	out := make([]core.ConnectionStatus, 0, len(connections))
	for _, conn := range connections {
		out = append(out, q.reader.Status(conn.AccountID))
	}
	return out, nil
}

type RateLimitStatusQuery struct {
	reader RateLimitReader
}

func NewRateLimitStatusQuery(reader RateLimitReader) *RateLimitStatusQuery {
	return &RateLimitStatusQuery{reader: reader}
}

func (q *RateLimitStatusQuery) Query(_ context.Context, msg RateLimitStatusMessage) (ratelimit.Report, error) {
	if q == nil || q.reader == nil {
		return ratelimit.Report{}, core.MissingDependencyError("query", "rate governor")
	}
	return q.reader.Status(msg.AccountID), nil
}

type ErrorStatsQuery struct {
	reader ErrorLogReader
}

func NewErrorStatsQuery(reader ErrorLogReader) *ErrorStatsQuery {
	return &ErrorStatsQuery{reader: reader}
}

func (q *ErrorStatsQuery) Query(_ context.Context, msg ErrorStatsMessage) (ErrorStatsResult, error) {
	if q == nil || q.reader == nil {
		return ErrorStatsResult{}, core.MissingDependencyError("query", "error log")
	}
	result := ErrorStatsResult{ErrorStats: q.reader.Stats()}
	if msg.RecentLimit > 0 {
		result.Latest = q.reader.Recent(msg.RecentLimit)
	}
	return result, nil
}

type SecurityStatusQuery struct {
	reader SecurityReader
}

func NewSecurityStatusQuery(reader SecurityReader) *SecurityStatusQuery {
	return &SecurityStatusQuery{reader: reader}
}

func (q *SecurityStatusQuery) Query(ctx context.Context, _ SecurityStatusMessage) (security.Status, error) {
	if q == nil || q.reader == nil {
		return security.Status{}, core.MissingDependencyError("query", "credential vault")
	}
	return q.reader.SecurityStatus(ctx)
}

var (
	_ gocmd.Querier[ConnectionStatusMessage, core.ConnectionStatus]  = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[ListConnectionsMessage, []core.ConnectionStatus] = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[RateLimitStatusMessage, ratelimit.Report]        = (*RateLimitStatusQuery)(nil)
	_ gocmd.Querier[ErrorStatsMessage, ErrorStatsResult]             = (*ErrorStatsQuery)(nil)
	_ gocmd.Querier[SecurityStatusMessage, security.Status]          = (*SecurityStatusQuery)(nil)

	_ ConnectionReader = (*core.Service)(nil)
	_ RateLimitReader  = (*ratelimit.Governor)(nil)
	_ ErrorLogReader   = (*resilience.ErrorLog)(nil)
	_ SecurityReader   = (*security.Vault)(nil)
)
