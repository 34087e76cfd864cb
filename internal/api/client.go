package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// ClientConfig carries the connection parameters for a bridge client.
type ClientConfig struct {
	// Host is the bridge address, host or host:port.
	Host string
	// Username is the application key obtained during pairing. May be
	// empty for unauthenticated endpoints such as /api/0/config.
	Username string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// RetryAttempts is how many times a failed request is retried.
	RetryAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// Logger receives per-attempt debug output. Defaults to slog.Default.
	Logger *slog.Logger
}

// Client talks to a Hue bridge over its V1 REST API. Every request is
// retried on failure and bridge error envelopes are mapped to typed
// errors, so callers can branch on ErrorKind instead of string matching.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a bridge client. Zero config fields fall back to
// sensible defaults (10s timeout, 3 retries, 1s delay).
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// Host returns the bridge host this client targets.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Username returns the application key, empty if unauthenticated.
func (c *Client) Username() string {
	return c.cfg.Username
}

// WithUsername returns a copy of the client using the given application
// key. The original client is unchanged.
func (c *Client) WithUsername(username string) *Client {
	cfg := c.cfg
	cfg.Username = username
	return &Client{cfg: cfg, client: c.client, logger: c.logger}
}

// resolve builds the full request URL. Paths starting with "/" bypass
// the username segment (for unauthenticated endpoints); everything else
// is rooted under /api/<username>/.
func (c *Client) resolve(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return fmt.Sprintf("http://%s/api%s", c.cfg.Host, path)
	}
	return fmt.Sprintf("http://%s/api/%s/%s", c.cfg.Host, c.cfg.Username, path)
}

// errorEnvelope is one entry of the bridge's error response array.
type errorEnvelope struct {
	Error *BridgeError `json:"error"`
}

// attempt performs a single HTTP exchange and classifies every failure
// mode into a typed *Error. body is marshaled fresh on each call so
// retries never reuse a drained reader.
func (c *Client) attempt(ctx context.Context, method, path string, body any, out any) (err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return &Error{Kind: KindParse, Op: method + " " + path, Reason: "encoding request body", Err: merr}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.resolve(path), reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: method + " " + path, Reason: "building request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return &Error{
				Kind:      KindTimeout,
				Op:        method + " " + path,
				Reason:    fmt.Sprintf("request timed out after %s", c.cfg.Timeout),
				Retryable: true,
				Err:       err,
			}
		}
		return &Error{
			Kind:      KindNetwork,
			Op:        method + " " + path,
			Reason:    "request failed",
			Retryable: true,
			Err:       err,
		}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: method + " " + path, Reason: "reading response", Retryable: true, Err: err}
	}

	// The bridge reports failures as a JSON array of error envelopes
	// regardless of HTTP status. Probe for that shape before decoding
	// the caller's type.
	var envelopes []errorEnvelope
	if json.Unmarshal(data, &envelopes) == nil {
		for _, env := range envelopes {
			if env.Error != nil {
				return fromBridgeError(*env.Error)
			}
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindParse, Op: method + " " + path, Reason: "decoding response", Err: err}
		}
	}
	return nil
}

// withRetry runs fn up to RetryAttempts times with a fixed delay
// between attempts, returning the last error if all attempts fail.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		c.logger.Debug("request attempt failed",
			"op", op,
			"attempt", attempt,
			"attempts", c.cfg.RetryAttempts,
			"error", lastErr,
		)
		if attempt == c.cfg.RetryAttempts {
			break
		}
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

// checkAuth rejects authenticated paths before any attempt when no
// application key is set. A missing key is a precondition, not a
// transient failure, so it bypasses the retry loop.
func (c *Client) checkAuth(method, path string) error {
	if (len(path) == 0 || path[0] != '/') && c.cfg.Username == "" {
		return &Error{Kind: KindAuth, Op: method + " " + path, Reason: "no application key configured"}
	}
	return nil
}

// get issues a retried GET decoding the response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.checkAuth(http.MethodGet, path); err != nil {
		return err
	}
	return c.withRetry(ctx, "GET "+path, func() error {
		return c.attempt(ctx, http.MethodGet, path, nil, out)
	})
}

// put issues a retried PUT decoding the response into out.
func (c *Client) put(ctx context.Context, path string, body, out any) error {
	if err := c.checkAuth(http.MethodPut, path); err != nil {
		return err
	}
	return c.withRetry(ctx, "PUT "+path, func() error {
		return c.attempt(ctx, http.MethodPut, path, body, out)
	})
}

// post issues a retried POST decoding the response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.checkAuth(http.MethodPost, path); err != nil {
		return err
	}
	return c.withRetry(ctx, "POST "+path, func() error {
		return c.attempt(ctx, http.MethodPost, path, body, out)
	})
}

// del issues a retried DELETE.
func (c *Client) del(ctx context.Context, path string) error {
	if err := c.checkAuth(http.MethodDelete, path); err != nil {
		return err
	}
	return c.withRetry(ctx, "DELETE "+path, func() error {
		return c.attempt(ctx, http.MethodDelete, path, nil, nil)
	})
}

// TestConnection checks reachability via the unauthenticated config
// endpoint. It succeeds even without a valid application key.
func (c *Client) TestConnection(ctx context.Context) error {
	var cfg BridgeConfig
	if err := c.get(ctx, "/0/config", &cfg); err != nil {
		return err
	}
	if cfg.BridgeID == "" {
		return &Error{Kind: KindNetwork, Op: "test connection", Reason: "host did not identify as a Hue bridge"}
	}
	return nil
}

// GetConfig fetches the full bridge configuration. Requires a valid
// application key.
func (c *Client) GetConfig(ctx context.Context) (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := c.get(ctx, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetCapabilities fetches the bridge's resource limits.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	var caps Capabilities
	if err := c.get(ctx, "capabilities", &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// GetLights fetches all lights keyed by their bridge ID.
func (c *Client) GetLights(ctx context.Context) (map[string]Light, error) {
	lights := make(map[string]Light)
	if err := c.get(ctx, "lights", &lights); err != nil {
		return nil, err
	}
	return lights, nil
}

// GetLight fetches a single light by ID.
func (c *Client) GetLight(ctx context.Context, id string) (*Light, error) {
	var light Light
	if err := c.get(ctx, "lights/"+id, &light); err != nil {
		return nil, err
	}
	return &light, nil
}

// SetLightState applies a state change to a single light.
func (c *Client) SetLightState(ctx context.Context, id string, state LightState) error {
	var resp []ActionResponse
	return c.put(ctx, "lights/"+id+"/state", state, &resp)
}

// GetScenes fetches all scenes keyed by their bridge ID.
func (c *Client) GetScenes(ctx context.Context) (map[string]Scene, error) {
	scenes := make(map[string]Scene)
	if err := c.get(ctx, "scenes", &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// GetScene fetches a single scene by ID, including its light states.
func (c *Client) GetScene(ctx context.Context, id string) (*Scene, error) {
	var scene Scene
	if err := c.get(ctx, "scenes/"+id, &scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

// CreateScene validates and stores a new scene on the bridge, returning
// the assigned scene ID.
func (c *Client) CreateScene(ctx context.Context, req CreateSceneRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	var resp []CreateSceneResponse
	if err := c.post(ctx, "scenes", req, &resp); err != nil {
		return "", err
	}
	if len(resp) == 0 || resp[0].Success.ID == "" {
		return "", &Error{Kind: KindBridge, Op: "create scene", Reason: "bridge did not return a scene id"}
	}
	return resp[0].Success.ID, nil
}

// DeleteScene removes a scene from the bridge.
func (c *Client) DeleteScene(ctx context.Context, id string) error {
	return c.del(ctx, "scenes/"+id)
}

// ExecuteScene recalls a scene on group 0 (all lights).
func (c *Client) ExecuteScene(ctx context.Context, sceneID string) ([]ActionResponse, error) {
	return c.ExecuteSceneOnGroup(ctx, sceneID, "0")
}

// ExecuteSceneOnGroup recalls a scene on a specific group.
func (c *Client) ExecuteSceneOnGroup(ctx context.Context, sceneID, groupID string) ([]ActionResponse, error) {
	var resp []ActionResponse
	err := c.put(ctx, "groups/"+groupID+"/action", SceneActionRequest{Scene: sceneID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetGroups fetches all light groups keyed by their bridge ID.
func (c *Client) GetGroups(ctx context.Context) (map[string]Group, error) {
	groups := make(map[string]Group)
	if err := c.get(ctx, "groups", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup fetches a single group by ID.
func (c *Client) GetGroup(ctx context.Context, id string) (*Group, error) {
	var group Group
	if err := c.get(ctx, "groups/"+id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// SuitableLight pairs a light with its bridge ID for deterministic
// ordering.
type SuitableLight struct {
	ID    string
	Light Light
}

// SuitableLights returns the lights that can signal a status color,
// sorted by ID. Returns a not-found error when no light qualifies.
func (c *Client) SuitableLights(ctx context.Context) ([]SuitableLight, error) {
	lights, err := c.GetLights(ctx)
	if err != nil {
		return nil, err
	}
	suitable := make([]SuitableLight, 0, len(lights))
	for id, light := range lights {
		if light.SuitableForStatus() {
			suitable = append(suitable, SuitableLight{ID: id, Light: light})
		}
	}
	if len(suitable) == 0 {
		return nil, &Error{
			Kind:   KindNotFound,
			Op:     "suitable lights",
			Reason: "no reachable color-capable lights found",
		}
	}
	sort.Slice(suitable, func(i, j int) bool { return suitable[i].ID < suitable[j].ID })
	return suitable, nil
}

// SceneExists reports whether a scene ID is present on the bridge.
// Bridge-side "not available" errors map to a plain false.
func (c *Client) SceneExists(ctx context.Context, id string) (bool, error) {
	_, err := c.GetScene(ctx, id)
	if err == nil {
		return true, nil
	}
	switch KindOf(err) {
	case KindNotFound, KindBridge, KindConfig:
		return false, nil
	}
	return false, err
}

// ValidateScene checks that a scene exists and is usable for status
// signaling.
func (c *Client) ValidateScene(ctx context.Context, id string) error {
	scene, err := c.GetScene(ctx, id)
	if err != nil {
		return err
	}
	if !scene.SuitableForStatus() {
		return &Error{
			Kind:   KindScene,
			Op:     "validate scene",
			Reason: fmt.Sprintf("scene %q is locked or has no lights", scene.Name),
		}
	}
	return nil
}

// Status summarizes the bridge for diagnostics output.
type Status struct {
	Name       string
	BridgeID   string
	APIVersion string
	SWVersion  string
	Lights     int
	Reachable  int
	Scenes     int
}

// GetStatus collects a bridge summary in one pass.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	lights, err := c.GetLights(ctx)
	if err != nil {
		return nil, err
	}
	scenes, err := c.GetScenes(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{
		Name:       cfg.Name,
		BridgeID:   cfg.BridgeID,
		APIVersion: cfg.APIVersion,
		SWVersion:  cfg.SWVersion,
		Lights:     len(lights),
		Scenes:     len(scenes),
	}
	for _, light := range lights {
		if light.Reachable() {
			status.Reachable++
		}
	}
	return status, nil
}
