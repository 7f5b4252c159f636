package query

import (
	"strings"

	"github.com/goliatone/go-autoreply/core"
)

const (
	TypeConnectionStatus = "autoreply.query.connection.status"
	TypeListConnections  = "autoreply.query.connection.list"
	TypeRateLimitStatus  = "autoreply.query.rate.status"
	TypeErrorStats       = "autoreply.query.errors.stats"
	TypeSecurityStatus   = "autoreply.query.security.status"

	maxRecentErrors = 100
)

type ConnectionStatusMessage struct {
	AccountID string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.AccountID) == "" {
		return core.FieldError("query", "account_id", "account_id is required")
	}
	return nil
}

type ListConnectionsMessage struct{}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (ListConnectionsMessage) Validate() error { return nil }

// RateLimitStatusMessage asks for one account's budgets, or every live tracker
// when AccountID is empty.
type RateLimitStatusMessage struct {
	AccountID string
}

func (RateLimitStatusMessage) Type() string { return TypeRateLimitStatus }

func (RateLimitStatusMessage) Validate() error { return nil }

// ErrorStatsMessage returns aggregate counts plus, when RecentLimit is set, that
// many of the newest records.
type ErrorStatsMessage struct {
	RecentLimit int
}

func (ErrorStatsMessage) Type() string { return TypeErrorStats }

func (m ErrorStatsMessage) Validate() error {
	if m.RecentLimit < 0 {
		return core.FieldError("query", "recent_limit", "recent_limit must be >= 0")
	}
	if m.RecentLimit > maxRecentErrors {
		return core.FieldError("query", "recent_limit", "recent_limit must be <= 100")
	}
	return nil
}

type SecurityStatusMessage struct{}

func (SecurityStatusMessage) Type() string { return TypeSecurityStatus }

func (SecurityStatusMessage) Validate() error { return nil }
