package token

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/berniyo/uber-monzo-lambda/internal/credentials"
	"github.com/berniyo/uber-monzo-lambda/internal/monzo"
)

type fakeRefresher struct {
	calls []string
	resp  *monzo.TokenResponse
	err   error
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*monzo.TokenResponse, error) {
	f.calls = append(f.calls, refreshToken)
	return f.resp, f.err
}

var fixedNow = time.Date(2024, 3, 3, 14, 0, 0, 0, time.UTC)

func newFileStore(t *testing.T, tok credentials.AccessToken) *credentials.FileStore {
	t.Helper()
	store := credentials.NewFileStore(filepath.Join(t.TempDir(), "oauth.json"))
	require.NoError(t, store.Save(credentials.Credential{
		ClientID:     "oauth2client_1",
		ClientSecret: "secret",
		RedirectURI:  "https://hooks.example.com/",
		AccessToken:  tok,
	}))
	return store
}

func TestEnsureValidUsesUnexpiredToken(t *testing.T) {
	store := newFileStore(t, credentials.AccessToken{
		AccessToken:  "access-current",
		Expires:      fixedNow.Add(time.Hour).Unix(),
		RefreshToken: "refresh-current",
	})
	refresher := &fakeRefresher{}

	m := NewManager(store, refresher, WithClock(func() time.Time { return fixedNow }))

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-current", tok)
	require.Empty(t, refresher.calls)
}

func TestEnsureValidRefreshesExpiredToken(t *testing.T) {
	store := newFileStore(t, credentials.AccessToken{
		AccessToken:     "access-old",
		Expires:         fixedNow.Add(-time.Minute).Unix(),
		RefreshToken:    "refresh-old",
		ResourceOwnerID: "user_1",
	})
	refresher := &fakeRefresher{resp: &monzo.TokenResponse{
		AccessToken:  "access-new",
		RefreshToken: "refresh-new",
		Expiry:       fixedNow.Add(6 * time.Hour),
		UserID:       "user_2",
	}}

	m := NewManager(store, refresher, WithClock(func() time.Time { return fixedNow }))

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-new", tok)
	require.Equal(t, []string{"refresh-old"}, refresher.calls)

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "oauth2client_1", cred.ClientID)
	require.Equal(t, credentials.AccessToken{
		AccessToken:     "access-new",
		Expires:         fixedNow.Add(6 * time.Hour).Unix(),
		RefreshToken:    "refresh-new",
		ResourceOwnerID: "user_2",
	}, cred.AccessToken)

	// The persisted token is now valid, so a second call does not refresh.
	tok, err = m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-new", tok)
	require.Len(t, refresher.calls, 1)
}

func TestEnsureValidRefreshFailure(t *testing.T) {
	store := newFileStore(t, credentials.AccessToken{
		AccessToken:  "access-old",
		Expires:      fixedNow.Add(-time.Minute).Unix(),
		RefreshToken: "refresh-old",
	})
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}

	m := NewManager(store, refresher, WithClock(func() time.Time { return fixedNow }))

	_, err := m.EnsureValid(context.Background())
	require.EqualError(t, err, "invalid_grant")

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-old", cred.AccessToken.AccessToken)
}

// racingStore simulates another writer refreshing between Load and Rotate.
type racingStore struct {
	loaded  credentials.Credential
	current credentials.Credential
}

func (s *racingStore) Load(ctx context.Context) (credentials.Credential, error) {
	return s.loaded, nil
}

func (s *racingStore) Rotate(ctx context.Context, fn credentials.RotateFunc) (credentials.Credential, error) {
	tok, err := fn(ctx, s.current)
	if err != nil {
		return credentials.Credential{}, err
	}
	if tok != nil {
		s.current.AccessToken = *tok
	}
	return s.current, nil
}

func TestEnsureValidSkipsRefreshWhenAlreadyRotated(t *testing.T) {
	store := &racingStore{
		loaded: credentials.Credential{AccessToken: credentials.AccessToken{
			AccessToken: "access-old",
			Expires:     fixedNow.Add(-time.Minute).Unix(),
		}},
		current: credentials.Credential{AccessToken: credentials.AccessToken{
			AccessToken: "access-from-other-request",
			Expires:     fixedNow.Add(time.Hour).Unix(),
		}},
	}
	refresher := &fakeRefresher{}

	m := NewManager(store, refresher, WithClock(func() time.Time { return fixedNow }))

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-from-other-request", tok)
	require.Empty(t, refresher.calls)
}

// unwritableStore runs the rotation but fails to persist its result.
type unwritableStore struct {
	current credentials.Credential
}

func (s *unwritableStore) Load(ctx context.Context) (credentials.Credential, error) {
	return s.current, nil
}

func (s *unwritableStore) Rotate(ctx context.Context, fn credentials.RotateFunc) (credentials.Credential, error) {
	if _, err := fn(ctx, s.current); err != nil {
		return credentials.Credential{}, err
	}
	return credentials.Credential{}, errors.New("write oauth.json: read-only file system")
}

func TestEnsureValidKeepsRefreshedTokenWhenSaveFails(t *testing.T) {
	store := &unwritableStore{current: credentials.Credential{AccessToken: credentials.AccessToken{
		AccessToken:  "access-old",
		Expires:      fixedNow.Add(-time.Minute).Unix(),
		RefreshToken: "refresh-old",
	}}}
	refresher := &fakeRefresher{resp: &monzo.TokenResponse{
		AccessToken:  "access-new",
		RefreshToken: "refresh-new",
		Expiry:       fixedNow.Add(6 * time.Hour),
	}}

	m := NewManager(store, refresher, WithClock(func() time.Time { return fixedNow }))

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-new", tok)
	require.Equal(t, []string{"refresh-old"}, refresher.calls)
}

func TestEnsureValidMissingCredentials(t *testing.T) {
	store := credentials.NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	m := NewManager(store, &fakeRefresher{})

	_, err := m.EnsureValid(context.Background())
	require.True(t, errors.Is(err, credentials.ErrNotFound))
}
