package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// minPollInterval is the floor for device-token polling when the server
// does not specify one (RFC 8628 §3.2 default).
const minPollInterval = 5 * time.Second

// deviceAuthorization is the device endpoint's response.
type deviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
	Error                   string `json:"error"`
	ErrorDescription        string `json:"error_description"`
}

// deviceAuthorize runs the RFC 8628 device-authorization grant: request a
// device code, show the user code to the operator, then poll the token
// endpoint at the server's pace until the grant resolves.
func (m *Manager) deviceAuthorize(ctx context.Context) (*Credentials, error) {
	da, err := m.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("verification_uri", da.VerificationURI).
		Str("user_code", da.UserCode).
		Msg("device registration started")
	m.present(da.VerificationURI, da.UserCode)

	deadline := m.now().Add(time.Duration(da.ExpiresIn) * time.Second)
	interval := time.Duration(da.Interval) * time.Second
	if interval < minPollInterval {
		interval = minPollInterval
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("device_code", da.DeviceCode)

	for {
		if !m.now().Before(deadline) {
			return nil, &Error{Kind: KindDeviceFlowExpired, Message: "device code expired before sign-in completed"}
		}

		// Never poll faster than the server asked; the slack spreads
		// simultaneous agents apart.
		wait := interval + rand.N(500*time.Millisecond)
		if err := m.sleep(ctx, wait); err != nil {
			return nil, transportErr("device authorization cancelled", err)
		}

		rsp, status, err := m.postToken(ctx, form)
		if err != nil {
			return nil, err
		}

		switch rsp.Error {
		case "":
			if rsp.AccessToken == "" {
				return nil, transportErr(fmt.Sprintf("token endpoint returned %d without a token", status), nil)
			}
			m.log.Info().Msg("device registration complete")
			return m.credentialsFrom(rsp), nil
		case "authorization_pending":
			// The user has not finished signing in yet.
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "access_denied":
			return nil, &Error{Kind: KindDeviceFlowDenied, Message: "user denied the authorization request"}
		case "expired_token":
			return nil, &Error{Kind: KindDeviceFlowExpired, Message: "device code expired before sign-in completed"}
		default:
			msg := rsp.ErrorDescription
			if msg == "" {
				msg = rsp.Error
			}
			return nil, transportErr(msg, nil)
		}
	}
}

func (m *Manager) requestDeviceCode(ctx context.Context) (*deviceAuthorization, error) {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("scope", m.cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.DeviceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, transportErr("build device authorization request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, transportErr("device endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportErr("read device authorization response", err)
	}

	var da deviceAuthorization
	if err := json.Unmarshal(body, &da); err != nil {
		return nil, transportErr(
			fmt.Sprintf("device endpoint returned %d with unparsable body", resp.StatusCode), err)
	}
	if da.Error != "" || da.DeviceCode == "" {
		msg := da.ErrorDescription
		if msg == "" {
			msg = da.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("device endpoint returned %d", resp.StatusCode)
		}
		return nil, transportErr(msg, nil)
	}
	return &da, nil
}
