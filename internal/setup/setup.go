// Package setup runs the first-time onboarding flow: find a bridge,
// pair with it, create the status scenes, and persist the result.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/angristan/huestatus/internal/api"
	"github.com/angristan/huestatus/internal/config"
	"github.com/angristan/huestatus/internal/scenes"
	"github.com/google/uuid"
)

// Options controls the onboarding flow.
type Options struct {
	// BridgeIP skips discovery and targets a specific bridge.
	BridgeIP string
	// Timeout bounds each discovery method and API call.
	Timeout time.Duration
	// Force overwrites an existing configuration.
	Force bool
	// AuthTimeout is the link-button pairing window.
	AuthTimeout time.Duration
	// AuthInterval is the pairing poll interval.
	AuthInterval time.Duration
}

// Result reports what the flow produced.
type Result struct {
	Bridge         api.Bridge
	Username       string
	SuccessSceneID string
	FailureSceneID string
	Lights         int
}

// Process runs the onboarding flow step by step.
type Process struct {
	opts   Options
	logger *slog.Logger
}

// NewProcess creates a setup process.
func NewProcess(opts Options, logger *slog.Logger) *Process {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 30 * time.Second
	}
	if opts.AuthInterval <= 0 {
		opts.AuthInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{opts: opts, logger: logger}
}

// Run executes the full flow: discover, pair, verify, create scenes,
// save. An existing configuration aborts the run unless Force is set.
func (p *Process) Run(ctx context.Context) (*Result, error) {
	if config.Exists() && !p.opts.Force {
		return nil, &api.Error{
			Kind:   api.KindConfig,
			Op:     "setup",
			Reason: "configuration already exists, use -force to overwrite",
		}
	}

	bridge, err := p.findBridge(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("using bridge", "bridge", bridge.DisplayName())

	auth := api.NewAuthenticator(bridge.Addr).
		WithTimeout(p.opts.AuthTimeout).
		WithInterval(p.opts.AuthInterval).
		WithLogger(p.logger)
	if err := auth.CheckBridgeAccessibility(ctx); err != nil {
		return nil, err
	}

	p.logger.Info("press the link button on the bridge", "window", p.opts.AuthTimeout)
	cred, err := auth.AuthenticateWithCallback(ctx, "huestatus", instanceName(), func(status api.AuthStatus) {
		p.logger.Info("pairing", "status", status.String())
	})
	if err != nil {
		return nil, err
	}
	if err := auth.TestAuthentication(ctx, cred.Username); err != nil {
		return nil, err
	}
	p.logger.Info("paired with bridge", "bridge", bridge.DisplayName())

	cfg := config.New(bridge.Addr, cred.Username)
	client := api.NewClient(cfg.ClientConfig())

	manager := scenes.NewManager(client, "", "", p.logger)
	created, err := manager.CreateStatusScenes(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Scenes.Success = config.SceneRef{ID: created.SuccessSceneID, Name: scenes.SceneNameSuccess, AutoCreated: true, LastValidated: time.Now()}
	cfg.Scenes.Failure = config.SceneRef{ID: created.FailureSceneID, Name: scenes.SceneNameFailure, AutoCreated: true, LastValidated: time.Now()}
	p.logger.Info("created status scenes", "lights", len(created.Lights))

	if caps, err := client.GetCapabilities(ctx); err != nil {
		p.logger.Debug("capability fetch failed, skipping cache", "error", err)
	} else {
		cfg.UpdateCapabilitiesCache(*caps)
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}

	return &Result{
		Bridge:         *bridge,
		Username:       cred.Username,
		SuccessSceneID: created.SuccessSceneID,
		FailureSceneID: created.FailureSceneID,
		Lights:         len(created.Lights),
	}, nil
}

// findBridge resolves the target bridge from an explicit address or by
// running discovery.
func (p *Process) findBridge(ctx context.Context) (*api.Bridge, error) {
	discovery := api.NewDiscovery(p.opts.Timeout, p.logger)
	if p.opts.BridgeIP != "" {
		return discovery.DiscoverManual(ctx, p.opts.BridgeIP)
	}

	p.logger.Info("searching for bridges")
	result, err := discovery.DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}
	bridge := api.SelectBestBridge([]api.DiscoveryResult{*result})
	if bridge == nil {
		return nil, &api.Error{Kind: api.KindNotFound, Op: "setup", Reason: "no Hue bridges found"}
	}
	return bridge, nil
}

// instanceName identifies this machine in the bridge's app list.
func instanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("host-%s", uuid.NewString()[:8])
}
