package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleFile = `{
    "client_id": "oauth2client_1",
    "client_secret": "secret",
    "redirect_uri": "https://hooks.example.com/",
    "access_token": {
        "access_token": "access-old",
        "expires": 1700000000,
        "refresh_token": "refresh-old",
        "resource_owner_id": "user_1"
    }
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauth.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))
	return path
}

func TestAccessTokenExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)

	require.True(t, AccessToken{Expires: 1699999999}.Expired(now))
	require.True(t, AccessToken{Expires: 1700000000}.Expired(now))
	require.False(t, AccessToken{Expires: 1700000001}.Expired(now))
	require.True(t, AccessToken{}.Expired(now))
}

func TestFileStoreLoad(t *testing.T) {
	store := NewFileStore(writeSample(t))

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "oauth2client_1", cred.ClientID)
	require.Equal(t, "secret", cred.ClientSecret)
	require.Equal(t, "https://hooks.example.com/", cred.RedirectURI)
	require.Equal(t, AccessToken{
		AccessToken:     "access-old",
		Expires:         1700000000,
		RefreshToken:    "refresh-old",
		ResourceOwnerID: "user_1",
	}, cred.AccessToken)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	_, err := store.Load(context.Background())
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreRotateWritesWholeRecord(t *testing.T) {
	path := writeSample(t)
	store := NewFileStore(path)

	fresh := AccessToken{
		AccessToken:     "access-new",
		Expires:         1700021600,
		RefreshToken:    "refresh-new",
		ResourceOwnerID: "user_2",
	}

	cred, err := store.Rotate(context.Background(), func(ctx context.Context, current Credential) (*AccessToken, error) {
		require.Equal(t, "refresh-old", current.AccessToken.RefreshToken)
		return &fresh, nil
	})
	require.NoError(t, err)
	require.Equal(t, fresh, cred.AccessToken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk Credential
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, "oauth2client_1", onDisk.ClientID)
	require.Equal(t, "secret", onDisk.ClientSecret)
	require.Equal(t, "https://hooks.example.com/", onDisk.RedirectURI)
	require.Equal(t, fresh, onDisk.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRotateWithoutTokenLeavesFile(t *testing.T) {
	path := writeSample(t)
	store := NewFileStore(path)

	cred, err := store.Rotate(context.Background(), func(ctx context.Context, current Credential) (*AccessToken, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, "access-old", cred.AccessToken.AccessToken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, sampleFile, string(data))
}

func TestFileStoreRotateError(t *testing.T) {
	path := writeSample(t)
	store := NewFileStore(path)

	_, err := store.Rotate(context.Background(), func(ctx context.Context, current Credential) (*AccessToken, error) {
		return nil, errors.New("token endpoint down")
	})
	require.EqualError(t, err, "token endpoint down")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, sampleFile, string(data))
}
