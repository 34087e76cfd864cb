package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// AuthStatus tracks where a pairing attempt stands.
type AuthStatus int

const (
	// StatusWaitingForButton means the bridge is reachable but the link
	// button has not been pressed yet.
	StatusWaitingForButton AuthStatus = iota
	// StatusButtonPressed means the bridge accepted the pairing request.
	StatusButtonPressed
	// StatusSuccess means an application key was issued.
	StatusSuccess
	// StatusTimeout means the deadline passed without a button press.
	StatusTimeout
	// StatusError means the bridge returned a non-recoverable error.
	StatusError
)

func (s AuthStatus) String() string {
	switch s {
	case StatusWaitingForButton:
		return "waiting for link button"
	case StatusButtonPressed:
		return "button pressed"
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("AuthStatus(%d)", int(s))
}

// Credential is an application key with its provenance.
type Credential struct {
	Username   string    `json:"username"`
	DeviceType string    `json:"device_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Age returns how long ago the credential was issued.
func (c *Credential) Age() time.Duration {
	return time.Since(c.CreatedAt)
}

// IsRecent reports whether the credential is less than an hour old.
func (c *Credential) IsRecent() bool {
	return c.Age() < time.Hour
}

// IsOld reports whether the credential is more than thirty days old.
func (c *Credential) IsOld() bool {
	return c.Age() > 30*24*time.Hour
}

// Authenticator performs the link-button pairing dance: it polls the
// bridge until the user presses the physical button or the deadline
// passes.
type Authenticator struct {
	host     string
	timeout  time.Duration
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator for the given bridge host
// with a 30 second pairing window polled every second.
func NewAuthenticator(host string) *Authenticator {
	return &Authenticator{
		host:     host,
		timeout:  30 * time.Second,
		interval: time.Second,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
	}
}

// WithTimeout sets the overall pairing deadline.
func (a *Authenticator) WithTimeout(timeout time.Duration) *Authenticator {
	a.timeout = timeout
	return a
}

// WithInterval sets the delay between polls.
func (a *Authenticator) WithInterval(interval time.Duration) *Authenticator {
	a.interval = interval
	return a
}

// WithLogger sets the logger used for poll progress.
func (a *Authenticator) WithLogger(logger *slog.Logger) *Authenticator {
	a.logger = logger
	return a
}

// authEntry is one element of the bridge's pairing response array.
type authEntry struct {
	Success *struct {
		Username string `json:"username"`
	} `json:"success"`
	Error *BridgeError `json:"error"`
}

// Authenticate polls the bridge until a key is issued or the window
// closes. appName and instanceName form the devicetype presented to
// the bridge (visible in the Hue app's connected-apps list).
func (a *Authenticator) Authenticate(ctx context.Context, appName, instanceName string) (*Credential, error) {
	return a.AuthenticateWithCallback(ctx, appName, instanceName, nil)
}

// AuthenticateWithCallback is Authenticate with progress reporting:
// callback fires once per status transition, never per poll.
func (a *Authenticator) AuthenticateWithCallback(ctx context.Context, appName, instanceName string, callback func(AuthStatus)) (*Credential, error) {
	deviceType := fmt.Sprintf("%s#%s", appName, sanitizeInstance(instanceName))
	deadline := time.Now().Add(a.timeout)

	notify := func(last *AuthStatus, status AuthStatus) {
		if callback != nil && (last == nil || *last != status) {
			callback(status)
		}
	}

	var lastStatus *AuthStatus
	for {
		if time.Now().After(deadline) {
			notify(lastStatus, StatusTimeout)
			return nil, &Error{
				Kind:   KindTimeout,
				Op:     "authenticate",
				Reason: fmt.Sprintf("link button was not pressed within %s", a.timeout),
			}
		}

		cred, err := a.tryAuthenticate(ctx, deviceType)
		if err == nil {
			notify(lastStatus, StatusButtonPressed)
			pressed := StatusButtonPressed
			notify(&pressed, StatusSuccess)
			return cred, nil
		}

		if KindOf(err) == KindLinkButton {
			status := StatusWaitingForButton
			notify(lastStatus, status)
			lastStatus = &status
			a.logger.Debug("waiting for link button", "host", a.host)
		} else {
			notify(lastStatus, StatusError)
			return nil, err
		}

		select {
		case <-time.After(a.interval):
		case <-ctx.Done():
			return nil, &Error{Kind: KindAuth, Op: "authenticate", Reason: "pairing canceled", Err: ctx.Err()}
		}
	}
}

// tryAuthenticate makes one pairing request.
func (a *Authenticator) tryAuthenticate(ctx context.Context, deviceType string) (cred *Credential, err error) {
	body := strings.NewReader(fmt.Sprintf(`{"devicetype":%q}`, deviceType))
	url := fmt.Sprintf("http://%s/api", a.host)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "authenticate", Reason: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "authenticate", Reason: "request failed", Retryable: true, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	var entries []authEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &Error{Kind: KindParse, Op: "authenticate", Reason: "decoding response", Err: err}
	}

	for _, entry := range entries {
		if entry.Success != nil && entry.Success.Username != "" {
			return &Credential{
				Username:   entry.Success.Username,
				DeviceType: deviceType,
				CreatedAt:  time.Now(),
			}, nil
		}
		if entry.Error != nil {
			return nil, fromBridgeError(*entry.Error)
		}
	}
	return nil, &Error{Kind: KindParse, Op: "authenticate", Reason: "bridge returned an empty response"}
}

// TestAuthentication verifies that a key still works against the
// bridge's config endpoint.
func (a *Authenticator) TestAuthentication(ctx context.Context, username string) (err error) {
	url := fmt.Sprintf("http://%s/api/%s/config", a.host, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "test authentication", Reason: "building request", Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "test authentication", Reason: "request failed", Retryable: true, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:   KindAuth,
			Op:     "test authentication",
			Reason: fmt.Sprintf("bridge returned status %d", resp.StatusCode),
		}
	}

	var cfg BridgeConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return &Error{Kind: KindParse, Op: "test authentication", Reason: "decoding response", Err: err}
	}
	if cfg.BridgeID == "" {
		// An unauthorized key gets the whitelist-less public config,
		// which omits bridgeid.
		return &Error{Kind: KindAuth, Op: "test authentication", Reason: "application key is not authorized"}
	}
	return nil
}

// CheckBridgeAccessibility confirms the host answers like a bridge
// before starting the pairing window.
func (a *Authenticator) CheckBridgeAccessibility(ctx context.Context) (err error) {
	url := fmt.Sprintf("http://%s/api/0/config", a.host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "check bridge", Reason: "building request", Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "check bridge", Reason: "bridge is not reachable", Retryable: true, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:   KindNetwork,
			Op:     "check bridge",
			Reason: fmt.Sprintf("host returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// QuickAuthenticate runs the full pairing flow against a host with
// default settings, for callers that do not need progress reporting.
func QuickAuthenticate(ctx context.Context, host, appName, instanceName string) (*Credential, error) {
	return NewAuthenticator(host).Authenticate(ctx, appName, instanceName)
}

// sanitizeInstance keeps the devicetype within the bridge's length and
// character limits.
func sanitizeInstance(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '#' || r == '\n' {
			return '-'
		}
		return r
	}, name)
	if len(name) > 19 {
		name = name[:19]
	}
	return name
}
