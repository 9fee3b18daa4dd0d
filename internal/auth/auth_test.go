package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omas-app/omas-vendor-go/internal/config"
)

func testConfig(t *testing.T, tokenURL, deviceURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.TokenURL = tokenURL
	cfg.DeviceURL = deviceURL
	cfg.ClientID = "demo-client"
	cfg.StateDir = t.TempDir()
	return cfg
}

func fileStore(t *testing.T) *Store {
	t.Helper()
	return &Store{useKeyring: false, fallbackDir: t.TempDir()}
}

func testManager(t *testing.T, cfg *config.Config, store *Store) *Manager {
	t.Helper()
	return NewManager(cfg, &http.Client{Timeout: 5 * time.Second}, zerolog.Nop(),
		WithStore(store),
		WithPresenter(func(uri, code string) {}))
}

func writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"expires_in":    3600,
		"scope":         "openid omas offline_access",
	})
}

func TestStoreFileBackend(t *testing.T) {
	tmpDir := t.TempDir()
	store := &Store{useKeyring: false, fallbackDir: tmpDir}

	creds := &Credentials{
		AccessToken:  "test-access-token",
		TokenType:    "Bearer",
		RefreshToken: "test-refresh-token",
		ExpiresAt:    time.Now().Unix() + 3600,
		Scope:        "openid omas offline_access",
	}

	require.NoError(t, store.Save("demo-client", creds), "Save failed")

	credFile := filepath.Join(tmpDir, "credentials.json")
	info, err := os.Stat(credFile)
	require.NoError(t, err, "Credentials file not created")
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "File permissions mismatch")

	loaded, err := store.Load("demo-client")
	require.NoError(t, err, "Load failed")

	assert.Equal(t, creds.AccessToken, loaded.AccessToken)
	assert.Equal(t, creds.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, creds.ExpiresAt, loaded.ExpiresAt)
	assert.Equal(t, creds.Scope, loaded.Scope)
}

func TestStoreDelete(t *testing.T) {
	store := fileStore(t)

	creds := &Credentials{RefreshToken: "to-be-deleted"}
	require.NoError(t, store.Save("demo-client", creds), "Save failed")
	require.NoError(t, store.Delete("demo-client"), "Delete failed")

	_, err := store.Load("demo-client")
	assert.Error(t, err, "Load should fail after delete")
}

func TestStoreLoadMissing(t *testing.T) {
	store := fileStore(t)

	_, err := store.Load("nonexistent-client")
	assert.Error(t, err, "Load should fail for missing credentials")
}

func TestCredentialsValid(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{"nil", nil, false},
		{"no access token", &Credentials{RefreshToken: "r"}, false},
		{"fresh", &Credentials{AccessToken: "a", ExpiresAt: now.Unix() + 3600}, true},
		{"inside margin", &Credentials{AccessToken: "a", ExpiresAt: now.Unix() + 30}, false},
		{"expired", &Credentials{AccessToken: "a", ExpiresAt: now.Unix() - 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.Valid(now, expiryMargin))
		})
	}
}

func TestAccessTokenUsesCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for a valid cached credential")
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL+"/token", server.URL+"/device")
	m := testManager(t, cfg, fileStore(t))
	m.cached = &Credentials{
		AccessToken: "cached-token",
		ExpiresAt:   time.Now().Unix() + 3600,
	}

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
}

func TestAccessTokenRefreshesWithStoredCredential(t *testing.T) {
	var deviceCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		deviceCalls.Add(1)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "stored-offline", r.Form.Get("refresh_token"))
		writeTokenResponse(w, "fresh-access", "rotated-offline")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "stored-offline"}))

	cfg := testConfig(t, server.URL+"/token", server.URL+"/device")
	m := testManager(t, cfg, store)

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Zero(t, deviceCalls.Load(), "device flow must be skipped when an offline credential exists")

	// The rotated offline credential supersedes the stored one.
	stored, err := store.Load("demo-client")
	require.NoError(t, err)
	assert.Equal(t, "rotated-offline", stored.RefreshToken)
}

func TestAccessTokenKeepsOfflineCredentialWhenNotRotated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "stored-offline"}))

	cfg := testConfig(t, server.URL, server.URL)
	m := testManager(t, cfg, store)

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	stored, err := store.Load("demo-client")
	require.NoError(t, err)
	assert.Equal(t, "stored-offline", stored.RefreshToken)
}

func TestAccessTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	var tokenCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		writeTokenResponse(w, "shared-access", "offline")
	}))
	defer server.Close()

	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "offline"}))

	cfg := testConfig(t, server.URL, server.URL)
	m := testManager(t, cfg, store)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background())
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", tokens[i])
	}
	assert.Equal(t, int32(1), tokenCalls.Load(), "exactly one token exchange expected")
}

func TestRefreshRejectedDropsOfflineCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "Token is not active",
		})
	}))
	defer server.Close()

	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "revoked"}))

	cfg := testConfig(t, server.URL, server.URL)
	m := testManager(t, cfg, store)

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindRefreshRejected, authErr.Kind)
	assert.False(t, authErr.Retryable())

	// The revoked credential must be gone so the next call goes through
	// device registration instead of retrying a dead refresh token.
	loaded, loadErr := store.Load("demo-client")
	if loadErr == nil {
		assert.Empty(t, loaded.RefreshToken)
	}
}

func TestRefreshTransportErrorKeepsOfflineCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "temporarily_unavailable"})
	}))
	defer server.Close()

	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "still-good"}))

	cfg := testConfig(t, server.URL, server.URL)
	m := testManager(t, cfg, store)

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTransport, authErr.Kind)
	assert.True(t, authErr.Retryable())

	stored, err := store.Load("demo-client")
	require.NoError(t, err)
	assert.Equal(t, "still-good", stored.RefreshToken, "transport failures must not discard the offline credential")
}

func TestLogoutClearsCredentials(t *testing.T) {
	store := fileStore(t)
	require.NoError(t, store.Save("demo-client", &Credentials{RefreshToken: "r"}))

	cfg := testConfig(t, "http://unused", "http://unused")
	m := testManager(t, cfg, store)
	m.cached = &Credentials{AccessToken: "a", ExpiresAt: time.Now().Unix() + 3600}

	require.NoError(t, m.Logout())

	creds, err := m.Status()
	if err == nil && creds != nil {
		assert.Empty(t, creds.RefreshToken)
	}
}

func TestAccessTokenEnvOverride(t *testing.T) {
	t.Setenv("OMAS_TOKEN", "env-token")

	cfg := testConfig(t, "http://unused", "http://unused")
	m := testManager(t, cfg, fileStore(t))

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)
}
