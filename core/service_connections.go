package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	statusMessageNotConnected = "未連接"
	statusMessageExpired      = "Token 已過期"
	statusMessageConnected    = "已連接"
)

func (s *Service) putConnection(conn Connection) {
	s.mu.Lock()
	s.connections[conn.AccountID] = conn
	s.mu.Unlock()
}

func (s *Service) removeConnection(accountID string) (Connection, bool) {
	s.mu.Lock()
	conn, ok := s.connections[accountID]
	delete(s.connections, accountID)
	s.mu.Unlock()
	return conn, ok
}

// Connection returns the live connection for an account.
func (s *Service) Connection(accountID string) (Connection, bool) {
	if s == nil {
		return Connection{}, false
	}
	s.mu.RLock()
	conn, ok := s.connections[strings.TrimSpace(accountID)]
	s.mu.RUnlock()
	return conn, ok
}

func (s *Service) snapshotConnections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, conn)
	}
	return out
}

// Connections lists live connections.
func (s *Service) Connections() []Connection {
	if s == nil {
		return nil
	}
	return s.snapshotConnections()
}

// Status reports the connection state of an account. A connection whose expiry has
// passed is reported as expired even though it is still registered.
func (s *Service) Status(accountID string) ConnectionStatus {
	accountID = strings.TrimSpace(accountID)
	conn, ok := s.Connection(accountID)
	if !ok {
		if s.isPending(accountID) {
			return ConnectionStatus{
				AccountID: accountID,
				State:     ConnectionStateAuthPending,
				Reason:    statusMessageNotConnected,
			}
		}
		return ConnectionStatus{
			AccountID: accountID,
			State:     ConnectionStateDisconnected,
			Reason:    statusMessageNotConnected,
		}
	}
	expiresAt := conn.ExpiresAt
	status := ConnectionStatus{
		AccountID: accountID,
		Platform:  conn.Platform,
	}
	if !expiresAt.IsZero() {
		status.ExpiresAt = &expiresAt
		if !expiresAt.After(s.now()) {
			status.State = ConnectionStateExpired
			status.Reason = statusMessageExpired
			return status
		}
	}
	status.State = ConnectionStateConnected
	status.Connected = true
	status.Reason = statusMessageConnected
	return status
}

// ConnectWithToken registers a statically issued credential, as used by bot-token
// platforms that have no authorization-code flow.
func (s *Service) ConnectWithToken(ctx context.Context, accountID string, platform Platform, token TokenRecord) (status ConnectionStatus, err error) {
	startedAt := s.now()
	platform = NormalizePlatform(string(platform))
	accountID = strings.TrimSpace(accountID)
	defer func() {
		s.observeOperation(ctx, startedAt, "connect_with_token", err, map[string]any{
			"account_id": accountID,
			"platform":   string(platform),
		})
	}()

	if accountID == "" {
		return ConnectionStatus{}, s.mapError(fmt.Errorf("core: account id is required"))
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return ConnectionStatus{}, s.mapError(fmt.Errorf("core: access token is required"))
	}
	if _, err = s.clientFor(platform); err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	defer unlock()
	if err = s.storeConnection(ctx, Connection{AccountID: accountID, Platform: platform}.WithToken(token)); err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	return s.Status(accountID), nil
}

// storeConnection vaults the token, registers the connection and marks the account.
func (s *Service) storeConnection(ctx context.Context, conn Connection) error {
	if err := s.vault.StoreToken(ctx, conn.AccountID, conn.Token()); err != nil {
		return err
	}
	if existing, ok := s.Connection(conn.AccountID); ok && conn.Username == "" {
		conn.Username = existing.Username
	}
	s.putConnection(conn)
	s.setAccountStatus(ctx, conn.AccountID, AccountStatusConnected)
	s.scheduleRefresh(ctx, conn)
	return nil
}

func (s *Service) setAccountStatus(ctx context.Context, accountID string, status AccountStatus) {
	if s.accounts == nil {
		return
	}
	if err := s.accounts.SetAccountStatus(ctx, accountID, status); err != nil {
		s.logWarn(ctx, "account status update failed", map[string]any{
			"account_id": accountID,
			"status":     string(status),
			"error":      err.Error(),
		})
	}
}

func (s *Service) scheduleRefresh(ctx context.Context, conn Connection) {
	s.mu.RLock()
	scheduler := s.refreshScheduler
	s.mu.RUnlock()
	if scheduler == nil || conn.ExpiresAt.IsZero() || !conn.Token().Refreshable() {
		return
	}
	at := conn.ExpiresAt.Add(-s.config.Refresh.Lead())
	if now := s.now(); at.Before(now) {
		at = now
	}
	if err := scheduler.ScheduleRefresh(ctx, conn.AccountID, at); err != nil {
		s.logWarn(ctx, "refresh scheduling failed", map[string]any{
			"account_id": conn.AccountID,
			"platform":   string(conn.Platform),
			"error":      err.Error(),
		})
	}
}

// Refresh exchanges the stored refresh token for a new access token. Any failure
// drops the in-memory connection and returns false; an auth failure also purges the
// vaulted credential. It runs under the account lock.
func (s *Service) Refresh(ctx context.Context, accountID string) bool {
	startedAt := s.now()
	accountID = strings.TrimSpace(accountID)
	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		s.observeOperation(ctx, startedAt, "refresh", err, map[string]any{
			"account_id": accountID,
		})
		return false
	}
	defer unlock()

	conn, ok := s.Connection(accountID)
	if !ok {
		s.observeOperation(ctx, startedAt, "refresh", &NotConnectedError{AccountID: accountID}, map[string]any{
			"account_id": accountID,
		})
		return false
	}

	err = s.refreshConnection(ctx, conn)
	s.observeOperation(ctx, startedAt, "refresh", err, map[string]any{
		"account_id": accountID,
		"platform":   string(conn.Platform),
	})
	if err == nil {
		return true
	}

	s.removeConnection(accountID)
	if info := s.retrier.Classify(err); info.Kind == ErrorKindAuth {
		if clearErr := s.vault.Clear(ctx, accountID); clearErr != nil {
			s.logWarn(ctx, "vault purge after refresh failure failed", map[string]any{
				"account_id": accountID,
				"error":      clearErr.Error(),
			})
		}
	}
	return false
}

func (s *Service) refreshConnection(ctx context.Context, conn Connection) error {
	authorizer, err := s.authorizerFor(conn.Platform, "token refresh")
	if err != nil {
		return err
	}
	if !conn.Token().Refreshable() {
		return fmt.Errorf("core: refresh token is required for account %q", conn.AccountID)
	}
	token, err := authorizer.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		return err
	}
	return s.storeConnection(ctx, conn.WithToken(token))
}

// Disconnect forgets the connection, its rate trackers and its vaulted credentials.
func (s *Service) Disconnect(ctx context.Context, accountID string) (err error) {
	startedAt := s.now()
	accountID = strings.TrimSpace(accountID)
	var platform Platform
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, map[string]any{
			"account_id": accountID,
			"platform":   string(platform),
		})
	}()
	if accountID == "" {
		return s.mapError(fmt.Errorf("core: account id is required"))
	}

	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return s.mapError(err)
	}
	defer unlock()
	platform, err = s.disconnectLocked(ctx, accountID)
	return err
}

// disconnectLocked expects the caller to hold the account lock.
func (s *Service) disconnectLocked(ctx context.Context, accountID string) (Platform, error) {
	conn, _ := s.removeConnection(accountID)
	s.governor.ClearTracker(accountID)
	if err := s.vault.Clear(ctx, accountID); err != nil {
		return conn.Platform, s.mapError(err)
	}
	s.setAccountStatus(ctx, accountID, AccountStatusDisconnected)
	return conn.Platform, nil
}

// InvalidateCredentials satisfies CredentialInvalidator for the retrier's auth path.
func (s *Service) InvalidateCredentials(ctx context.Context, accountID string) error {
	return s.Disconnect(ctx, accountID)
}

// heldLockInvalidator is handed to the retrier while Send holds the account lock.
type heldLockInvalidator struct {
	service *Service
}

func (h heldLockInvalidator) InvalidateCredentials(ctx context.Context, accountID string) error {
	_, err := h.service.disconnectLocked(ctx, strings.TrimSpace(accountID))
	return err
}

func (s *Service) lockAccount(ctx context.Context, accountID string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	handle, err := s.accountLocker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = handle.Unlock(context.WithoutCancel(ctx))
	}, nil
}

// RefreshDue reports the accounts whose token expires within the lead window.
func (s *Service) RefreshDue(lead time.Duration) []string {
	cutoff := s.now().Add(lead)
	var due []string
	for _, conn := range s.snapshotConnections() {
		if conn.ExpiresAt.IsZero() || !conn.Token().Refreshable() {
			continue
		}
		if !conn.ExpiresAt.After(cutoff) {
			due = append(due, conn.AccountID)
		}
	}
	return due
}

var (
	_ CredentialInvalidator = (*Service)(nil)
	_ CredentialInvalidator = heldLockInvalidator{}
)
