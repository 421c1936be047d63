// Package token keeps the stored Monzo access token usable.
package token

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/berniyo/uber-monzo-lambda/internal/credentials"
	"github.com/berniyo/uber-monzo-lambda/internal/monzo"
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*monzo.TokenResponse, error)
}

// RefreshError wraps a failed refresh-token exchange.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return e.Err.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Manager hands out a valid access token, refreshing through the
// credential store when the stored one has expired.
type Manager struct {
	store     credentials.Store
	refresher Refresher
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes the manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager builds a Manager.
func NewManager(store credentials.Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// EnsureValid returns a usable access token. An expired token is refreshed
// once and the new pair is persisted before EnsureValid returns.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return "", err
	}

	if !cred.AccessToken.Expired(m.now()) {
		return cred.AccessToken.AccessToken, nil
	}

	m.logger.Info("access token has expired, refreshing",
		"expired_at", cred.AccessToken.ExpiresAt().UTC(),
	)

	var refreshed *credentials.AccessToken
	cred, err = m.store.Rotate(ctx, func(ctx context.Context, current credentials.Credential) (*credentials.AccessToken, error) {
		tok, err := m.refresh(ctx, current)
		refreshed = tok
		return tok, err
	})
	if err != nil {
		if refreshed == nil {
			return "", err
		}
		// Monzo has already retired the stored refresh token, so the new
		// pair is the only usable one left.
		m.logger.Error("could not save refreshed access token",
			"error", err,
			"resource_owner_id", refreshed.ResourceOwnerID,
		)
		return refreshed.AccessToken, nil
	}

	return cred.AccessToken.AccessToken, nil
}

func (m *Manager) refresh(ctx context.Context, current credentials.Credential) (*credentials.AccessToken, error) {
	now := m.now()

	// Another request refreshed while we waited for the lock.
	if !current.AccessToken.Expired(now) {
		return nil, nil
	}

	resp, err := m.refresher.RefreshToken(ctx, current.ClientID, current.ClientSecret, current.AccessToken.RefreshToken)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	tok := &credentials.AccessToken{
		AccessToken:     resp.AccessToken,
		RefreshToken:    resp.RefreshToken,
		ResourceOwnerID: resp.UserID,
	}
	if !resp.Expiry.IsZero() {
		tok.Expires = resp.Expiry.Unix()
	}

	m.logger.Info("access token refreshed",
		"resource_owner_id", tok.ResourceOwnerID,
		"expires_at", tok.ExpiresAt().UTC(),
	)

	return tok, nil
}

var _ Refresher = (*monzo.Client)(nil)
