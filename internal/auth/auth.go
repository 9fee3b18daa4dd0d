// Package auth manages the OAuth credential lifecycle for the vendor API:
// a long-lived offline (refresh) credential acquired once through the
// device-authorization grant, and a short-lived access credential that is
// refreshed transparently before every use.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omas-app/omas-vendor-go/internal/config"
)

// expiryMargin is how long before the actual expiry an access token is
// treated as stale.
const expiryMargin = 60 * time.Second

// Presenter displays the device-authorization prompt to the operator.
type Presenter func(verificationURI, userCode string)

// Manager handles OAuth authentication against the vendor's identity
// provider. Concurrent callers share a single in-flight token exchange.
type Manager struct {
	cfg        *config.Config
	store      *Store
	httpClient *http.Client
	log        zerolog.Logger
	present    Presenter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu     sync.Mutex
	cached *Credentials
}

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// WithPresenter overrides how the device user code is shown to the operator.
func WithPresenter(p Presenter) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.present = p
		}
	}
}

// WithStore overrides the credential store.
func WithStore(s *Store) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// NewManager creates a new auth manager.
func NewManager(cfg *config.Config, httpClient *http.Client, log zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:        cfg,
		store:      NewStore(cfg.StateDir),
		httpClient: httpClient,
		log:        log,
		present: func(uri, code string) {
			fmt.Fprintf(os.Stderr, "Go to: %s\nEnter the code: %s\n", uri, code)
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AccessToken returns a valid bearer token, refreshing or running the
// device grant as needed. If OMAS_TOKEN is set it is used directly.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token := os.Getenv("OMAS_TOKEN"); token != "" {
		return token, nil
	}

	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()
	if cached.Valid(m.now(), expiryMargin) {
		return cached.AccessToken, nil
	}

	// All callers that find the cache stale join a single exchange.
	v, err, _ := m.group.Do("token", func() (any, error) {
		return m.ensure(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*Credentials).AccessToken, nil
}

// ensure produces a valid credential set: cache hit, refresh grant, or
// full device authorization, in that order of preference.
func (m *Manager) ensure(ctx context.Context) (*Credentials, error) {
	// A queued caller may arrive after the winner already refreshed.
	m.mu.Lock()
	if m.cached.Valid(m.now(), expiryMargin) {
		cached := m.cached
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	var creds *Credentials
	stored, loadErr := m.store.Load(m.cfg.ClientID)
	if loadErr != nil || stored.RefreshToken == "" {
		m.log.Info().Msg("no offline credential, starting device registration")
		var err error
		creds, err = m.deviceAuthorize(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		creds, err = m.refreshGrant(ctx, stored.RefreshToken)
		if err != nil {
			var authErr *Error
			if errors.As(err, &authErr) && authErr.Kind == KindRefreshRejected {
				// The offline credential is revoked. Forget it so the
				// next call runs the device grant instead of looping on
				// a dead refresh token.
				m.log.Warn().Msg("offline credential rejected, dropping it")
				_ = m.store.Delete(m.cfg.ClientID)
			}
			return nil, err
		}
	}

	if err := m.store.Save(m.cfg.ClientID, creds); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}
	m.mu.Lock()
	m.cached = creds
	m.mu.Unlock()
	return creds, nil
}

// Login runs the device-authorization grant unconditionally and persists
// the resulting credentials.
func (m *Manager) Login(ctx context.Context) error {
	creds, err := m.deviceAuthorize(ctx)
	if err != nil {
		return err
	}
	if err := m.store.Save(m.cfg.ClientID, creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	m.mu.Lock()
	m.cached = creds
	m.mu.Unlock()
	return nil
}

// Logout removes stored credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return m.store.Delete(m.cfg.ClientID)
}

// Refresh forces a refresh-token exchange with the stored offline
// credential.
func (m *Manager) Refresh(ctx context.Context) error {
	stored, err := m.store.Load(m.cfg.ClientID)
	if err != nil || stored.RefreshToken == "" {
		return &Error{Kind: KindRefreshRejected, Message: "no offline credential stored"}
	}
	creds, err := m.refreshGrant(ctx, stored.RefreshToken)
	if err != nil {
		return err
	}
	if err := m.store.Save(m.cfg.ClientID, creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	m.mu.Lock()
	m.cached = creds
	m.mu.Unlock()
	return nil
}

// Status returns the current credentials without touching the network:
// the in-memory cache if present, else the stored value.
func (m *Manager) Status() (*Credentials, error) {
	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return m.store.Load(m.cfg.ClientID)
}

// refreshGrant exchanges the offline credential for fresh tokens.
// Exactly one round trip; transport failures are not retried here.
func (m *Manager) refreshGrant(ctx context.Context, refreshToken string) (*Credentials, error) {
	m.log.Debug().Msg("refreshing access credential")

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("refresh_token", refreshToken)

	rsp, status, err := m.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if rsp.Error != "" || rsp.AccessToken == "" {
		msg := rsp.ErrorDescription
		if msg == "" {
			msg = rsp.Error
		}
		if status >= 500 {
			return nil, transportErr(msg, nil)
		}
		return nil, &Error{Kind: KindRefreshRejected, Message: msg}
	}

	creds := m.credentialsFrom(rsp)
	if creds.RefreshToken == "" {
		// Not rotated; the prior offline credential stays valid.
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

// tokenResponse is the token endpoint's wire shape for both grants.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postToken posts a form to the token endpoint and decodes the response,
// whatever the HTTP status. Only transport-level failures return an error.
func (m *Manager) postToken(ctx context.Context, form url.Values) (*tokenResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, transportErr("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportErr("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, transportErr("read token response", err)
	}

	var rsp tokenResponse
	if err := json.Unmarshal(body, &rsp); err != nil {
		return nil, resp.StatusCode, transportErr(
			fmt.Sprintf("token endpoint returned %d with unparsable body", resp.StatusCode), err)
	}
	return &rsp, resp.StatusCode, nil
}

func (m *Manager) credentialsFrom(rsp *tokenResponse) *Credentials {
	tokenType := rsp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credentials{
		AccessToken:  rsp.AccessToken,
		TokenType:    tokenType,
		RefreshToken: rsp.RefreshToken,
		ExpiresAt:    m.now().Unix() + rsp.ExpiresIn,
		Scope:        rsp.Scope,
	}
}
