// Package credentials persists the Monzo OAuth client and token record.
package credentials

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no credential record has been stored.
var ErrNotFound = errors.New("credentials not found")

// AccessToken is the current OAuth access/refresh pair. Expires is a unix
// timestamp in seconds.
type AccessToken struct {
	AccessToken     string `json:"access_token"`
	Expires         int64  `json:"expires"`
	RefreshToken    string `json:"refresh_token"`
	ResourceOwnerID string `json:"resource_owner_id"`
}

// Expired reports whether the token can no longer be used at now. A token
// without an expiry is treated as expired.
func (t AccessToken) Expired(now time.Time) bool {
	if t.Expires == 0 {
		return true
	}
	return t.Expires <= now.Unix()
}

// ExpiresAt returns the expiry as a time.Time.
func (t AccessToken) ExpiresAt() time.Time {
	return time.Unix(t.Expires, 0)
}

// Credential is the OAuth client configuration together with its token.
type Credential struct {
	ClientID     string      `json:"client_id"`
	ClientSecret string      `json:"client_secret"`
	RedirectURI  string      `json:"redirect_uri"`
	AccessToken  AccessToken `json:"access_token"`
}

// RotateFunc receives the current record while the store holds its lock.
// Returning a nil token leaves the record untouched.
type RotateFunc func(ctx context.Context, current Credential) (*AccessToken, error)

// Store loads and rotates the credential record.
type Store interface {
	Load(ctx context.Context) (Credential, error)
	// Rotate serialises token refreshes: fn sees the latest stored record
	// and, if it returns a token, the whole record is written back before
	// Rotate returns.
	Rotate(ctx context.Context, fn RotateFunc) (Credential, error)
}
