package core

import (
	"fmt"
	"strings"
	"time"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLINE      Platform = "line"
	PlatformTwitter   Platform = "twitter"
	PlatformTelegram  Platform = "telegram"
	PlatformWhatsApp  Platform = "whatsapp"
)

// KnownPlatforms lists every platform with request shaping, in display order.
func KnownPlatforms() []Platform {
	return []Platform{
		PlatformInstagram,
		PlatformFacebook,
		PlatformLINE,
		PlatformTwitter,
		PlatformTelegram,
		PlatformWhatsApp,
	}
}

func NormalizePlatform(value string) Platform {
	return Platform(strings.TrimSpace(strings.ToLower(value)))
}

func (p Platform) String() string {
	return string(p)
}

func (p Platform) Known() bool {
	for _, known := range KnownPlatforms() {
		if p == known {
			return true
		}
	}
	return false
}

type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateAuthPending  ConnectionState = "auth_pending"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateExpired      ConnectionState = "expired"
)

type AccountStatus string

const (
	AccountStatusActive       AccountStatus = "active"
	AccountStatusInactive     AccountStatus = "inactive"
	AccountStatusConnected    AccountStatus = "connected"
	AccountStatusDisconnected AccountStatus = "disconnected"
)

// TokenRecord is the vaulted credential shape for a single account.
type TokenRecord struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (r TokenRecord) Refreshable() bool {
	return strings.TrimSpace(r.RefreshToken) != ""
}

type Connection struct {
	AccountID    string
	Platform     Platform
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (c Connection) Token() TokenRecord {
	return TokenRecord{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
	}
}

func (c Connection) WithToken(token TokenRecord) Connection {
	next := c
	next.AccessToken = token.AccessToken
	if strings.TrimSpace(token.RefreshToken) != "" {
		next.RefreshToken = token.RefreshToken
	}
	next.ExpiresAt = token.ExpiresAt
	return next
}

type ConnectionStatus struct {
	AccountID string          `json:"account_id"`
	Platform  Platform        `json:"platform,omitempty"`
	State     ConnectionState `json:"state"`
	Connected bool            `json:"connected"`
	Reason    string          `json:"message"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type SendReceipt struct {
	MessageID string
	Raw       map[string]any
}

type SendResult struct {
	MessageID string    `json:"message_id"`
	Platform  Platform  `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// OAuthSession scopes a single authorization attempt between redirect and callback.
type OAuthSession struct {
	State     string
	Platform  Platform
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AccountRef is the slice of the stored account record the orchestrator reads.
type AccountRef struct {
	ID       string
	Platform Platform
	Username string
	Status   AccountStatus
}

type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "NETWORK_ERROR"
	ErrorKindAuth       ErrorKind = "AUTH_ERROR"
	ErrorKindRateLimit  ErrorKind = "RATE_LIMIT_ERROR"
	ErrorKindValidation ErrorKind = "VALIDATION_ERROR"
	ErrorKindAPI        ErrorKind = "API_ERROR"
	ErrorKindUnknown    ErrorKind = "UNKNOWN_ERROR"
)

// ErrorContext travels with an outbound call so failures can be attributed.
type ErrorContext struct {
	AccountID string   `json:"accountId,omitempty"`
	Platform  Platform `json:"platform,omitempty"`
	Action    string   `json:"action,omitempty"`
}

func (c ErrorContext) Fields() map[string]any {
	fields := map[string]any{}
	if c.AccountID != "" {
		fields["account_id"] = c.AccountID
	}
	if c.Platform != "" {
		fields["platform"] = string(c.Platform)
	}
	if c.Action != "" {
		fields["action"] = c.Action
	}
	return fields
}

type ErrorInfo struct {
	Kind       ErrorKind     `json:"type"`
	Message    string        `json:"message"`
	StatusCode int           `json:"statusCode,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (i ErrorInfo) String() string {
	if i.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", i.Kind, i.StatusCode, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}
