package core

import (
	"context"
	"fmt"
	"strings"
)

// clientFor resolves the registered client. A known platform without one was left
// out of the configuration.
func (s *Service) clientFor(platform Platform) (PlatformClient, error) {
	client, ok := s.registry.Get(platform)
	if ok {
		return client, nil
	}
	if platform.Known() {
		return nil, &PlatformNotConfiguredError{Platform: platform}
	}
	return nil, &UnsupportedPlatformError{Platform: platform}
}

func (s *Service) authorizerFor(platform Platform, op string) (Authorizer, error) {
	client, err := s.clientFor(platform)
	if err != nil {
		return nil, err
	}
	authorizer, ok := client.(Authorizer)
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: platform, Op: op}
	}
	return authorizer, nil
}

// StartAuthorization begins an authorization-code flow for an account. The returned
// attempt resolves when DeliverAuthorizationCode or CancelAuthorization is called
// with its state.
func (s *Service) StartAuthorization(ctx context.Context, platform Platform, accountID string) (pending *PendingAuthorization, err error) {
	startedAt := s.now()
	platform = NormalizePlatform(string(platform))
	accountID = strings.TrimSpace(accountID)
	defer func() {
		s.observeOperation(ctx, startedAt, "start_authorization", err, map[string]any{
			"account_id": accountID,
			"platform":   string(platform),
		})
	}()

	if accountID == "" {
		return nil, s.mapError(fmt.Errorf("core: account id is required"))
	}
	authorizer, err := s.authorizerFor(platform, "authorization")
	if err != nil {
		return nil, s.mapError(err)
	}
	s.sweepExpiredAuthorizations(ctx)

	state, err := generateOAuthState()
	if err != nil {
		return nil, s.mapError(err)
	}
	session := OAuthSession{
		State:     state,
		Platform:  platform,
		AccountID: accountID,
		CreatedAt: s.now().UTC(),
	}
	session.ExpiresAt = session.CreatedAt.Add(defaultOAuthSessionTTL)
	authURL, err := authorizer.AuthorizationURL(state)
	if err != nil {
		return nil, s.mapError(err)
	}
	if err = s.sessionStore.Save(ctx, session); err != nil {
		return nil, s.mapError(err)
	}

	pending = newPendingAuthorization(session, authURL)
	pending.abandon = func(reason string) {
		_ = s.CancelAuthorization(context.Background(), state, reason)
	}
	s.pendingMu.Lock()
	s.pending[state] = pending
	s.pendingMu.Unlock()

	if s.opener != nil {
		if err = s.opener.Open(ctx, authURL); err != nil {
			s.takePending(state)
			_ = s.sessionStore.Discard(ctx, state)
			return nil, s.mapError(err)
		}
	}
	return pending, nil
}

// DeliverAuthorizationCode completes the attempt identified by state. An empty code
// is treated as a cancellation.
func (s *Service) DeliverAuthorizationCode(ctx context.Context, state string, code string) (ConnectionStatus, error) {
	state = strings.TrimSpace(state)
	if strings.TrimSpace(code) == "" {
		return ConnectionStatus{}, s.CancelAuthorization(ctx, state, "no authorization code returned")
	}

	pending := s.takePending(state)
	session, err := s.sessionStore.Consume(ctx, state)
	if err != nil {
		mapped := s.mapError(err)
		if pending != nil {
			pending.resolve(ConnectionStatus{}, mapped)
		}
		return ConnectionStatus{}, mapped
	}

	status, err := s.CompleteAuthorization(ctx, code, session.Platform, session.AccountID)
	if pending != nil {
		pending.resolve(status, err)
	}
	return status, err
}

// CancelAuthorization abandons a pending attempt.
func (s *Service) CancelAuthorization(ctx context.Context, state string, reason string) error {
	state = strings.TrimSpace(state)
	pending := s.takePending(state)
	session, consumeErr := s.sessionStore.Consume(ctx, state)
	if pending == nil && consumeErr != nil {
		return s.mapError(consumeErr)
	}

	cancelled := &AuthorizationCancelledError{Reason: reason}
	if consumeErr == nil {
		cancelled.Platform = session.Platform
		cancelled.AccountID = session.AccountID
	} else {
		cancelled.Platform = pending.Platform
		cancelled.AccountID = pending.AccountID
	}
	if pending != nil {
		pending.resolve(ConnectionStatus{}, s.mapError(cancelled))
	}
	s.logInfo(ctx, "authorization cancelled", map[string]any{
		"account_id": cancelled.AccountID,
		"platform":   string(cancelled.Platform),
		"reason":     reason,
	})
	return nil
}

// CompleteAuthorization exchanges an authorization code, vaults the token and marks
// the account connected.
func (s *Service) CompleteAuthorization(ctx context.Context, code string, platform Platform, accountID string) (status ConnectionStatus, err error) {
	startedAt := s.now()
	platform = NormalizePlatform(string(platform))
	accountID = strings.TrimSpace(accountID)
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, map[string]any{
			"account_id": accountID,
			"platform":   string(platform),
		})
	}()

	if accountID == "" {
		return ConnectionStatus{}, s.mapError(fmt.Errorf("core: account id is required"))
	}
	if strings.TrimSpace(code) == "" {
		return ConnectionStatus{}, s.mapError(fmt.Errorf("core: authorization code is required"))
	}
	authorizer, err := s.authorizerFor(platform, "authorization")
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	token, err := authorizer.Exchange(ctx, code)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	conn := Connection{AccountID: accountID, Platform: platform}.WithToken(token)
	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	defer unlock()
	if err = s.storeConnection(ctx, conn); err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	return s.Status(accountID), nil
}

func (s *Service) takePending(state string) *PendingAuthorization {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	pending := s.pending[state]
	delete(s.pending, state)
	return pending
}

func (s *Service) isPending(accountID string) bool {
	now := s.now()
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, pending := range s.pending {
		if pending.AccountID == accountID && !pending.expired(now) {
			return true
		}
	}
	return false
}

// sweepExpiredAuthorizations resolves attempts whose session outlived its TTL.
func (s *Service) sweepExpiredAuthorizations(ctx context.Context) {
	now := s.now()
	s.pendingMu.Lock()
	var expired []*PendingAuthorization
	for state, pending := range s.pending {
		if pending.expired(now) {
			expired = append(expired, pending)
			delete(s.pending, state)
		}
	}
	s.pendingMu.Unlock()

	for _, pending := range expired {
		_ = s.sessionStore.Discard(ctx, pending.State)
		pending.resolve(ConnectionStatus{}, s.mapError(&AuthorizationCancelledError{
			Platform:  pending.Platform,
			AccountID: pending.AccountID,
			Reason:    "authorization session expired",
		}))
	}
}
