package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type stubVault struct {
	mu          sync.Mutex
	initialized int
	tokens      map[string]TokenRecord
	cleared     []string
	now         func() time.Time
}

func newStubVault(now func() time.Time) *stubVault {
	return &stubVault{tokens: map[string]TokenRecord{}, now: now}
}

func (v *stubVault) Initialize(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized++
	return nil
}

func (v *stubVault) StoreToken(_ context.Context, accountID string, token TokenRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[accountID] = token
	return nil
}

func (v *stubVault) GetToken(_ context.Context, accountID string) (*TokenRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, ok := v.tokens[accountID]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (v *stubVault) Clear(_ context.Context, accountID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, accountID)
	v.cleared = append(v.cleared, accountID)
	return nil
}

func (v *stubVault) IsExpired(token *TokenRecord) bool {
	if token == nil || token.ExpiresAt.IsZero() {
		return true
	}
	return !v.now().Add(5 * time.Minute).Before(token.ExpiresAt)
}

func (v *stubVault) token(accountID string) (TokenRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, ok := v.tokens[accountID]
	return token, ok
}

type stubGovernor struct {
	mu       sync.Mutex
	admitErr error
	usage    map[string]int
	cleared  []string
}

func newStubGovernor() *stubGovernor {
	return &stubGovernor{usage: map[string]int{}}
}

func (g *stubGovernor) CheckAdmission(string, Platform) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitErr
}

func (g *stubGovernor) RecordUsage(accountID string, _ Platform) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage[accountID]++
}

func (g *stubGovernor) ClearTracker(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = append(g.cleared, accountID)
}

func (g *stubGovernor) used(accountID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage[accountID]
}

// stubRetrier runs the operation once and classifies 401s as auth failures.
type stubRetrier struct {
	authCalls int
}

func (r *stubRetrier) Execute(ctx context.Context, op func(ctx context.Context) error, _ ErrorContext) error {
	if err := op(ctx); err != nil {
		return &ClassifiedError{Info: r.Classify(err), Attempts: 1, Err: err}
	}
	return nil
}

func (r *stubRetrier) Classify(err error) ErrorInfo {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Status == 401 {
		return ErrorInfo{Kind: ErrorKindAuth, StatusCode: 401, Message: err.Error()}
	}
	var exchangeErr *TokenExchangeError
	if errors.As(err, &exchangeErr) && exchangeErr.Status == 401 {
		return ErrorInfo{Kind: ErrorKindAuth, StatusCode: 401, Message: err.Error()}
	}
	return ErrorInfo{Kind: ErrorKindUnknown, Message: err.Error()}
}

func (r *stubRetrier) OnAuthError(ctx context.Context, ec ErrorContext, invalidator CredentialInvalidator) error {
	r.authCalls++
	if err := invalidator.InvalidateCredentials(ctx, ec.AccountID); err != nil {
		return err
	}
	return &ReauthRequiredError{AccountID: ec.AccountID, Platform: ec.Platform}
}

type stubPlatformClient struct {
	platform    Platform
	sendErr     error
	sendCalls   int
	exchangeErr error
	refreshErr  error
	token       TokenRecord
	lastCode    string
	lastAccess  string
	mu          sync.Mutex
}

func (c *stubPlatformClient) Platform() Platform { return c.platform }

func (c *stubPlatformClient) Scopes() []string { return []string{"basic"} }

func (c *stubPlatformClient) Send(_ context.Context, conn Connection, message string, recipientID string) (SendReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls++
	c.lastAccess = conn.AccessToken
	if c.sendErr != nil {
		return SendReceipt{}, c.sendErr
	}
	return SendReceipt{MessageID: fmt.Sprintf("msg_%s_%d", recipientID, c.sendCalls)}, nil
}

// stubAuthClient adds the authorization-code flow to stubPlatformClient.
type stubAuthClient struct {
	*stubPlatformClient
}

func (c stubAuthClient) AuthorizationURL(state string) (string, error) {
	values := url.Values{}
	values.Set("state", state)
	values.Set("response_type", "code")
	return "https://auth.example/authorize?" + values.Encode(), nil
}

func (c stubAuthClient) Exchange(_ context.Context, code string) (TokenRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCode = code
	if c.exchangeErr != nil {
		return TokenRecord{}, c.exchangeErr
	}
	return c.token, nil
}

func (c stubAuthClient) Refresh(_ context.Context, refreshToken string) (TokenRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshErr != nil {
		return TokenRecord{}, c.refreshErr
	}
	return c.token, nil
}

type stubAccounts struct {
	mu       sync.Mutex
	accounts []AccountRef
	statuses map[string]AccountStatus
}

func newStubAccounts(accounts ...AccountRef) *stubAccounts {
	return &stubAccounts{accounts: accounts, statuses: map[string]AccountStatus{}}
}

func (a *stubAccounts) ListAccounts(context.Context) ([]AccountRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AccountRef(nil), a.accounts...), nil
}

func (a *stubAccounts) SetAccountStatus(_ context.Context, accountID string, status AccountStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[accountID] = status
	return nil
}

func (a *stubAccounts) status(accountID string) AccountStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statuses[accountID]
}

type recordingOpener struct {
	urls []string
	err  error
}

func (o *recordingOpener) Open(_ context.Context, authURL string) error {
	o.urls = append(o.urls, authURL)
	return o.err
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls map[string]time.Time
}

func (s *recordingScheduler) ScheduleRefresh(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]time.Time{}
	}
	s.calls[accountID] = at
	return nil
}

type serviceFixture struct {
	svc      *Service
	vault    *stubVault
	governor *stubGovernor
	retrier  *stubRetrier
	accounts *stubAccounts
	client   *stubPlatformClient
	now      time.Time
}

func newServiceFixture(opts ...Option) (*serviceFixture, error) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	fixture := &serviceFixture{
		vault:    newStubVault(clock),
		governor: newStubGovernor(),
		retrier:  &stubRetrier{},
		accounts: newStubAccounts(),
		client: &stubPlatformClient{
			platform: PlatformInstagram,
			token: TokenRecord{
				AccessToken:  "access_new",
				RefreshToken: "refresh_new",
				ExpiresAt:    now.Add(time.Hour),
			},
		},
		now: now,
	}
	registry := NewPlatformRegistry(
		stubAuthClient{fixture.client},
		&stubPlatformClient{platform: PlatformTelegram},
	)
	base := []Option{
		WithCredentialVault(fixture.vault),
		WithRateGovernor(fixture.governor),
		WithRetrier(fixture.retrier),
		WithPlatformRegistry(registry),
		WithAccountDirectory(fixture.accounts),
		WithClock(clock),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	fixture.svc = svc
	return fixture, nil
}
