package query

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/ratelimit"
	"github.com/goliatone/go-autoreply/resilience"
	"github.com/goliatone/go-autoreply/security"
)

type stubConnectionReader struct {
	connections []core.Connection
}

func (s stubConnectionReader) Status(accountID string) core.ConnectionStatus {
	for _, conn := range s.connections {
		if conn.AccountID == accountID {
			return core.ConnectionStatus{AccountID: accountID, Platform: conn.Platform, State: core.ConnectionStateConnected, Connected: true}
		}
	}
	return core.ConnectionStatus{AccountID: accountID, State: core.ConnectionStateDisconnected}
}

func (s stubConnectionReader) Connections() []core.Connection { return s.connections }

type stubErrorLogReader struct {
	stats      resilience.ErrorStats
	recent     []resilience.Record
	recentCall int
}

func (s *stubErrorLogReader) Stats() resilience.ErrorStats { return s.stats }

func (s *stubErrorLogReader) Recent(limit int) []resilience.Record {
	s.recentCall = limit
	return s.recent
}

type stubSecurityReader struct {
	status security.Status
	err    error
}

func (s stubSecurityReader) SecurityStatus(context.Context) (security.Status, error) {
	return s.status, s.err
}

func TestConnectionStatusQuery_ReportsConnectedAccount(t *testing.T) {
	reader := stubConnectionReader{connections: []core.Connection{{AccountID: "acct_1", Platform: core.PlatformFacebook, AccessToken: "secret"}}}
	status, err := NewConnectionStatusQuery(reader).Query(context.Background(), ConnectionStatusMessage{AccountID: "acct_1"})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if !status.Connected || status.Platform != core.PlatformFacebook {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestListConnectionsQuery_ReturnsStatusPerConnection(t *testing.T) {
	reader := stubConnectionReader{connections: []core.Connection{
		{AccountID: "acct_1", Platform: core.PlatformFacebook},
		{AccountID: "acct_2", Platform: core.PlatformLINE},
	}}
	statuses, err := NewListConnectionsQuery(reader).Query(context.Background(), ListConnectionsMessage{})
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(statuses) != 2 || statuses[1].Platform != core.PlatformLINE {
		t.Fatalf("unexpected statuses %#v", statuses)
	}
}

func TestRateLimitStatusQuery_UsesGovernorReport(t *testing.T) {
	governor := ratelimit.NewGovernor()
	report, err := NewRateLimitStatusQuery(governor).Query(context.Background(), RateLimitStatusMessage{AccountID: "acct_1"})
	if err != nil {
		t.Fatalf("rate status: %v", err)
	}
	if len(report.Platforms) != len(core.KnownPlatforms()) {
		t.Fatalf("expected one budget per platform, got %d", len(report.Platforms))
	}
	if report.Global.Remaining <= 0 {
		t.Fatalf("expected fresh global budget, got %d", report.Global.Remaining)
	}
}

func TestErrorStatsQuery_AttachesLatestWhenRequested(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &stubErrorLogReader{
		stats: resilience.ErrorStats{Total: 2, ByKind: map[core.ErrorKind]int{core.ErrorKindNetwork: 2}},
		recent: []resilience.Record{
			{ErrorInfo: core.ErrorInfo{Kind: core.ErrorKindNetwork, Message: "dial tcp", Timestamp: now}},
		},
	}
	qry := NewErrorStatsQuery(reader)

	result, err := qry.Query(context.Background(), ErrorStatsMessage{})
	if err != nil {
		t.Fatalf("error stats: %v", err)
	}
	if result.Total != 2 || result.Latest != nil || reader.recentCall != 0 {
		t.Fatalf("expected aggregate only, got %#v", result)
	}

	result, err = qry.Query(context.Background(), ErrorStatsMessage{RecentLimit: 5})
	if err != nil {
		t.Fatalf("error stats with recent: %v", err)
	}
	if reader.recentCall != 5 || len(result.Latest) != 1 {
		t.Fatalf("expected latest records, got %#v", result.Latest)
	}
}

func TestSecurityStatusQuery_PropagatesVaultError(t *testing.T) {
	boom := errors.New("store offline")
	_, err := NewSecurityStatusQuery(stubSecurityReader{err: boom}).Query(context.Background(), SecurityStatusMessage{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected vault error, got %v", err)
	}

	status, err := NewSecurityStatusQuery(stubSecurityReader{status: security.Status{EncryptionKeyExists: true, SecureStorageCount: 3}}).
		Query(context.Background(), SecurityStatusMessage{})
	if err != nil || status.SecureStorageCount != 3 {
		t.Fatalf("unexpected status %#v err=%v", status, err)
	}
}

func TestQueries_NilDependencyReturnsRichError(t *testing.T) {
	_, err := NewErrorStatsQuery(nil).Query(context.Background(), ErrorStatsMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ServiceErrorInternal {
		t.Fatalf("unexpected text code %q", rich.TextCode)
	}
}

func TestMessages_ValidateReturnRichErrors(t *testing.T) {
	invalid := []interface{ Validate() error }{
		ConnectionStatusMessage{},
		ErrorStatsMessage{RecentLimit: -1},
		ErrorStatsMessage{RecentLimit: 101},
	}
	for _, msg := range invalid {
		var rich *goerrors.Error
		if err := msg.Validate(); !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryValidation {
			t.Fatalf("%T: expected validation envelope, got %v", msg, err)
		}
	}
}
