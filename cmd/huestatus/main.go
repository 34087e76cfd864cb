// Command huestatus signals build or task status through Philips Hue
// lights: "huestatus success" turns them green, "huestatus failure"
// turns them red.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/angristan/huestatus/internal/api"
	"github.com/angristan/huestatus/internal/config"
	"github.com/angristan/huestatus/internal/logging"
	"github.com/angristan/huestatus/internal/scenes"
	"github.com/angristan/huestatus/internal/setup"
)

// Exit codes by failure class, so scripts can branch on what went
// wrong.
const (
	exitOK           = 0
	exitConfig       = 1
	exitConnectivity = 2
	exitAuth         = 3
	exitScene        = 4
	exitParse        = 5
	exitOther        = 6
)

func main() {
	var (
		runSetup = flag.Bool("setup", false, "run first-time setup (discover bridge, pair, create scenes)")
		bridgeIP = flag.String("bridge", "", "bridge IP address, skips discovery")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-request timeout")
		verbose  = flag.Bool("verbose", false, "enable debug logging")
		quiet    = flag.Bool("quiet", false, "only log warnings and errors")
		force    = flag.Bool("force", false, "overwrite existing configuration during setup")
		test     = flag.Bool("test", false, "validate the configured scenes without changing lights")
	)
	flag.Usage = usage
	flag.Parse()

	logger := logging.New(*verbose, *quiet)
	ctx := context.Background()

	if *runSetup {
		proc := setup.NewProcess(setup.Options{
			BridgeIP: *bridgeIP,
			Timeout:  *timeout,
			Force:    *force,
		}, logger)
		result, err := proc.Run(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Setup complete: bridge %s, %d lights, scenes ready.\n",
			result.Bridge.DisplayName(), result.Lights)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if *verbose || cfg.Settings.VerboseLogging {
		logger = logging.New(true, false)
	} else if *quiet || cfg.Settings.QuietMode {
		logger = logging.New(false, true)
	}
	if *bridgeIP != "" {
		cfg.Bridge.IP = *bridgeIP
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "timeout" {
			cfg.Settings.TimeoutSeconds = int(timeout.Seconds())
		}
	})

	client := api.NewClient(cfg.ClientConfig())
	manager := scenes.NewManager(client, cfg.Scenes.Success.ID, cfg.Scenes.Failure.ID, logger)

	if *test {
		if err := manager.ValidateStatusScenes(ctx); err != nil {
			fail(err)
		}
		cfg.UpdateSceneValidation()
		if err := cfg.Save(); err != nil {
			logger.Warn("could not persist validation timestamp", "error", err)
		}
		fmt.Println("Both status scenes are valid.")
		return
	}

	status, err := parseStatus(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(exitConfig)
	}

	// Stale scenes get rebuilt transparently when the config allows it.
	if cfg.Settings.AutoRefreshScenes && cfg.SceneValidationStale() {
		if err := manager.ValidateStatusScenes(ctx); err != nil {
			logger.Info("stored scenes are stale, rebuilding", "reason", err)
			created, rErr := manager.RefreshStatusScenes(ctx)
			if rErr != nil {
				fail(rErr)
			}
			cfg.Scenes.Success.ID = created.SuccessSceneID
			cfg.Scenes.Success.AutoCreated = true
			cfg.Scenes.Failure.ID = created.FailureSceneID
			cfg.Scenes.Failure.AutoCreated = true
		}
		cfg.UpdateSceneValidation()
		if err := cfg.Save(); err != nil {
			logger.Warn("could not persist scene refresh", "error", err)
		}
	}

	result, err := manager.ExecuteStatusScene(ctx, status, scenes.DefaultOptions())
	if err != nil {
		fail(err)
	}
	logger.Debug("scene applied",
		"status", status,
		"attempts", result.Metrics.Attempts,
		"duration", result.Metrics.Duration(),
	)
}

// parseStatus maps the positional argument to a status.
func parseStatus(args []string) (scenes.Status, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one argument: success or failure")
	}
	switch args[0] {
	case "success":
		return scenes.StatusSuccess, nil
	case "failure":
		return scenes.StatusFailure, nil
	}
	return "", fmt.Errorf("unknown status %q: expected success or failure", args[0])
}

// fail prints the error and exits with the code for its kind.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "huestatus: %v\n", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch api.KindOf(err) {
	case api.KindConfig:
		return exitConfig
	case api.KindNetwork, api.KindTimeout, api.KindNotFound, api.KindDiscovery, api.KindBridge:
		return exitConnectivity
	case api.KindAuth, api.KindLinkButton:
		return exitAuth
	case api.KindScene, api.KindValidation:
		return exitScene
	case api.KindParse:
		return exitParse
	}
	return exitOther
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  huestatus [flags] success|failure
  huestatus -setup [-bridge IP] [-force]
  huestatus -test

Flags:
`)
	flag.PrintDefaults()
}
