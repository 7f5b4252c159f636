package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultOAuthSessionTTL = 15 * time.Minute

type MemoryOAuthSessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]OAuthSession
}

func NewMemoryOAuthSessionStore(ttl time.Duration) *MemoryOAuthSessionStore {
	if ttl <= 0 {
		ttl = defaultOAuthSessionTTL
	}
	return &MemoryOAuthSessionStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]OAuthSession{},
	}
}

func (s *MemoryOAuthSessionStore) Save(_ context.Context, session OAuthSession) error {
	if s == nil {
		return fmt.Errorf("core: oauth session store is not configured")
	}
	state := strings.TrimSpace(session.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = session.CreatedAt.Add(s.ttl)
	}

	now := s.now()
	s.mu.Lock()
	for key, existing := range s.entries {
		if !existing.ExpiresAt.IsZero() && now.After(existing.ExpiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[state] = session
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, expired ones included until the next Save.
func (s *MemoryOAuthSessionStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Consume returns the session and forgets it; a state is valid exactly once.
func (s *MemoryOAuthSessionStore) Consume(_ context.Context, state string) (OAuthSession, error) {
	if s == nil {
		return OAuthSession{}, fmt.Errorf("core: oauth session store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return OAuthSession{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	session, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthSession{}, fmt.Errorf("core: oauth state not found")
	}
	if !session.ExpiresAt.IsZero() && s.now().After(session.ExpiresAt) {
		return OAuthSession{}, fmt.Errorf("core: oauth state expired")
	}
	return session, nil
}

func (s *MemoryOAuthSessionStore) Discard(_ context.Context, state string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(state))
	s.mu.Unlock()
	return nil
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

type authorizationOutcome struct {
	status ConnectionStatus
	err    error
}

// PendingAuthorization is an authorization attempt waiting for its callback.
type PendingAuthorization struct {
	URL       string
	State     string
	Platform  Platform
	AccountID string
	ExpiresAt time.Time

	abandon func(reason string)
	done    chan struct{}
	once    sync.Once
	outcome authorizationOutcome
}

func newPendingAuthorization(session OAuthSession, authURL string) *PendingAuthorization {
	return &PendingAuthorization{
		URL:       authURL,
		State:     session.State,
		Platform:  session.Platform,
		AccountID: session.AccountID,
		ExpiresAt: session.ExpiresAt,
		done:      make(chan struct{}),
	}
}

func (p *PendingAuthorization) resolve(status ConnectionStatus, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.outcome = authorizationOutcome{status: status, err: err}
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the attempt completed, failed or was cancelled.
func (p *PendingAuthorization) Done() <-chan struct{} {
	return p.done
}

func (p *PendingAuthorization) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Wait blocks until the callback is delivered or cancelled. A context that ends first
// abandons the attempt and yields AuthorizationCancelledError.
func (p *PendingAuthorization) Wait(ctx context.Context) (ConnectionStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return p.outcome.status, p.outcome.err
	case <-ctx.Done():
		if p.abandon != nil {
			p.abandon(ctx.Err().Error())
		}
		select {
		case <-p.done:
			if p.outcome.err == nil {
				return p.outcome.status, nil
			}
		default:
		}
		return ConnectionStatus{}, &AuthorizationCancelledError{
			Platform:  p.Platform,
			AccountID: p.AccountID,
			Reason:    ctx.Err().Error(),
		}
	}
}
