package scenes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/angristan/huestatus/internal/api"
)

// Options tunes how a scene execution behaves.
type Options struct {
	// ValidateBeforeExecution checks the scene is usable before any
	// light changes.
	ValidateBeforeExecution bool
	// Timeout bounds each execution attempt.
	Timeout time.Duration
	// RetryOnFailure retries failed attempts.
	RetryOnFailure bool
	// MaxRetries caps the number of attempts.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// CaptureSnapshot records light states before execution so they
	// can be rolled back.
	CaptureSnapshot bool
	// RollbackOnFailure restores the snapshot when execution fails.
	RollbackOnFailure bool
}

// DefaultOptions balances safety and latency.
func DefaultOptions() Options {
	return Options{
		ValidateBeforeExecution: false,
		Timeout:                 5 * time.Second,
		RetryOnFailure:          true,
		MaxRetries:              3,
		RetryDelay:              time.Second,
		CaptureSnapshot:         true,
		RollbackOnFailure:       false,
	}
}

// FastOptions favors latency over safety nets.
func FastOptions() Options {
	return Options{
		ValidateBeforeExecution: false,
		Timeout:                 2 * time.Second,
		RetryOnFailure:          false,
		MaxRetries:              1,
		RetryDelay:              500 * time.Millisecond,
		CaptureSnapshot:         false,
		RollbackOnFailure:       false,
	}
}

// ReliableOptions turns every safety net on.
func ReliableOptions() Options {
	return Options{
		ValidateBeforeExecution: true,
		Timeout:                 10 * time.Second,
		RetryOnFailure:          true,
		MaxRetries:              5,
		RetryDelay:              2 * time.Second,
		CaptureSnapshot:         true,
		RollbackOnFailure:       true,
	}
}

// Strategy selects how a scene is applied.
type Strategy struct {
	kind  strategyKind
	delay time.Duration
}

type strategyKind int

const (
	strategyImmediate strategyKind = iota
	strategyDelayed
	strategyFade
	strategyValidated
	strategyBackup
)

// Immediate applies the scene right away.
func Immediate() Strategy { return Strategy{kind: strategyImmediate} }

// Delayed waits before applying the scene.
func Delayed(d time.Duration) Strategy { return Strategy{kind: strategyDelayed, delay: d} }

// Fade applies the scene with a transition window.
func Fade(d time.Duration) Strategy { return Strategy{kind: strategyFade, delay: d} }

// Validated validates the scene before applying it regardless of
// options.
func Validated() Strategy { return Strategy{kind: strategyValidated} }

// BackupAndRestore snapshots, applies, and rolls back on failure.
func BackupAndRestore() Strategy { return Strategy{kind: strategyBackup} }

func (s Strategy) String() string {
	switch s.kind {
	case strategyImmediate:
		return "immediate"
	case strategyDelayed:
		return fmt.Sprintf("delayed(%s)", s.delay)
	case strategyFade:
		return fmt.Sprintf("fade(%s)", s.delay)
	case strategyValidated:
		return "validated"
	case strategyBackup:
		return "backup-and-restore"
	}
	return "unknown"
}

// Snapshot is one light's state captured before execution.
type Snapshot struct {
	LightID    string
	LightName  string
	State      api.LightState
	CapturedAt time.Time
}

// Metrics records per-phase timing for one execution.
type Metrics struct {
	StartedAt         time.Time
	FinishedAt        time.Time
	ValidationElapsed time.Duration
	SnapshotElapsed   time.Duration
	ExecutionElapsed  time.Duration
	Attempts          int
	Lights            int
	Validated         bool
	Snapshot          bool
}

// Duration is the total wall time of the execution.
func (m *Metrics) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// PerformanceScore rates the execution from 0 to 100: full marks under
// a second, losing points for slowness and retries.
func (m *Metrics) PerformanceScore() int {
	score := 100
	if d := m.Duration(); d > time.Second {
		penalty := int(d / (500 * time.Millisecond))
		score -= penalty * 10
	}
	score -= (m.Attempts - 1) * 15
	if score < 0 {
		score = 0
	}
	return score
}

// Result reports the outcome of one execution.
type Result struct {
	SceneID   string
	Strategy  Strategy
	Success   bool
	Error     error
	Metrics   Metrics
	Snapshots []Snapshot
}

// Executor runs scenes against a bridge with validation, snapshots,
// retries, and rollback per its options.
type Executor struct {
	client *api.Client
	opts   Options
	logger *slog.Logger
}

// NewExecutor creates an executor with the given options.
func NewExecutor(client *api.Client, opts Options, logger *slog.Logger) *Executor {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, opts: opts, logger: logger}
}

// Execute applies a scene using the given strategy. The pipeline is
// validate, snapshot, execute-with-retry; each stage runs only when the
// options or strategy ask for it.
func (e *Executor) Execute(ctx context.Context, sceneID string, strategy Strategy) *Result {
	result := &Result{
		SceneID:  sceneID,
		Strategy: strategy,
		Metrics:  Metrics{StartedAt: time.Now()},
	}
	defer func() {
		result.Metrics.FinishedAt = time.Now()
	}()

	if e.opts.ValidateBeforeExecution {
		phase := time.Now()
		if err := e.Validate(ctx, sceneID); err != nil {
			result.Error = err
			return result
		}
		result.Metrics.Validated = true
		result.Metrics.ValidationElapsed = time.Since(phase)
	}

	if e.opts.CaptureSnapshot || e.opts.RollbackOnFailure || strategy.kind == strategyBackup {
		phase := time.Now()
		snapshots, err := e.snapshotStates(ctx, sceneID)
		if err != nil {
			e.logger.Warn("snapshot capture failed, continuing without rollback",
				"scene", sceneID, "error", err)
		} else {
			result.Snapshots = snapshots
			result.Metrics.Snapshot = true
			result.Metrics.Lights = len(snapshots)
			result.Metrics.SnapshotElapsed = time.Since(phase)
		}
	}

	phase := time.Now()
	var err error
	if strategy.kind == strategyBackup || e.opts.RollbackOnFailure {
		err = e.executeWithRestore(ctx, sceneID, strategy, result)
	} else {
		err = e.executeWithRetry(ctx, sceneID, strategy, result)
	}
	result.Metrics.ExecutionElapsed = time.Since(phase)
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// executeWithRetry runs attempts until one succeeds, the budget is
// spent, or the failure is one retrying cannot fix.
func (e *Executor) executeWithRetry(ctx context.Context, sceneID string, strategy Strategy, result *Result) error {
	attempts := 1
	if e.opts.RetryOnFailure {
		attempts = e.opts.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Metrics.Attempts = attempt
		lastErr = e.executeOnce(ctx, sceneID, strategy)
		if lastErr == nil {
			return nil
		}
		// Validation failures are deterministic; retrying burns the
		// budget without changing the outcome.
		if api.KindOf(lastErr) == api.KindValidation {
			return lastErr
		}
		e.logger.Debug("scene execution attempt failed",
			"scene", sceneID, "attempt", attempt, "attempts", attempts, "error", lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(e.opts.RetryDelay):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

// executeOnce applies the strategy for a single attempt.
func (e *Executor) executeOnce(ctx context.Context, sceneID string, strategy Strategy) error {
	switch strategy.kind {
	case strategyValidated:
		// Revalidate right before applying, so the check reflects the
		// bridge state of this attempt rather than pipeline entry.
		if err := e.Validate(ctx, sceneID); err != nil {
			return err
		}
		return e.executeImmediate(ctx, sceneID, e.opts.Timeout)
	case strategyDelayed:
		select {
		case <-time.After(strategy.delay):
		case <-ctx.Done():
			return &api.Error{Kind: api.KindScene, Op: "execute scene", Reason: "canceled during delay", Err: ctx.Err()}
		}
		return e.executeImmediate(ctx, sceneID, e.opts.Timeout)
	case strategyFade:
		// The bridge owns the fade; the attempt budget just has to
		// outlive the transition.
		return e.executeImmediate(ctx, sceneID, strategy.delay+5*time.Second)
	default:
		return e.executeImmediate(ctx, sceneID, e.opts.Timeout)
	}
}

// executeImmediate recalls the scene on group 0 under a timeout.
func (e *Executor) executeImmediate(ctx context.Context, sceneID string, timeout time.Duration) error {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := e.client.ExecuteScene(execCtx, sceneID)
	if err == nil {
		return nil
	}
	if api.KindOf(err) == api.KindTimeout || execCtx.Err() == context.DeadlineExceeded {
		return &api.Error{
			Kind:      api.KindTimeout,
			Op:        "execute scene",
			Reason:    fmt.Sprintf("scene %s did not apply within %s", sceneID, timeout),
			Retryable: true,
			Err:       err,
		}
	}
	return &api.Error{
		Kind:      api.KindScene,
		Op:        "execute scene",
		Reason:    fmt.Sprintf("applying scene %s", sceneID),
		Retryable: true,
		Err:       err,
	}
}

// executeWithRestore applies the scene and restores the snapshot if it
// fails. The original execution error is what the caller sees; restore
// failures are only logged.
func (e *Executor) executeWithRestore(ctx context.Context, sceneID string, strategy Strategy, result *Result) error {
	err := e.executeWithRetry(ctx, sceneID, strategy, result)
	if err == nil {
		return nil
	}
	if len(result.Snapshots) > 0 {
		e.logger.Info("execution failed, restoring snapshot", "scene", sceneID, "lights", len(result.Snapshots))
		if rbErr := e.RestoreSnapshots(ctx, result.Snapshots); rbErr != nil {
			e.logger.Error("snapshot restore failed", "scene", sceneID, "error", rbErr)
		}
	}
	return err
}

// ExecuteWithRollback executes the primary scene and, on failure,
// applies the rollback scene exactly once, best effort. The caller
// always sees the primary error: a successful rollback never masks it.
func (e *Executor) ExecuteWithRollback(ctx context.Context, primarySceneID, rollbackSceneID string) *Result {
	result := e.Execute(ctx, primarySceneID, Immediate())
	if result.Error == nil {
		return result
	}
	e.logger.Info("execution failed, applying rollback scene",
		"scene", primarySceneID, "rollback", rollbackSceneID)
	if rbErr := e.executeImmediate(ctx, rollbackSceneID, e.opts.Timeout); rbErr != nil {
		e.logger.Error("rollback scene failed", "rollback", rollbackSceneID, "error", rbErr)
	}
	return result
}

// Validate checks the scene exists, is usable, and that every light it
// references is currently reachable. A scene over unreachable lights
// would silently do nothing, so it fails here before any mutation.
func (e *Executor) Validate(ctx context.Context, sceneID string) error {
	if err := e.client.ValidateScene(ctx, sceneID); err != nil {
		return err
	}
	scene, err := e.client.GetScene(ctx, sceneID)
	if err != nil {
		return err
	}
	var unreachable []string
	for _, lightID := range scene.Lights {
		light, err := e.client.GetLight(ctx, lightID)
		if err != nil {
			return err
		}
		if !light.Reachable() {
			unreachable = append(unreachable, light.Name)
		}
	}
	if len(unreachable) > 0 {
		return &api.Error{
			Kind:   api.KindValidation,
			Op:     "validate scene",
			Reason: fmt.Sprintf("unreachable lights: %s", strings.Join(unreachable, ", ")),
		}
	}
	return nil
}

// snapshotStates captures the current state of every light the scene
// touches.
func (e *Executor) snapshotStates(ctx context.Context, sceneID string) ([]Snapshot, error) {
	scene, err := e.client.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]Snapshot, 0, len(scene.Lights))
	now := time.Now()
	for _, lightID := range scene.Lights {
		light, err := e.client.GetLight(ctx, lightID)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, Snapshot{
			LightID:    lightID,
			LightName:  light.Name,
			State:      light.State,
			CapturedAt: now,
		})
	}
	return snapshots, nil
}

// RestoreSnapshots pushes captured states back to their lights.
func (e *Executor) RestoreSnapshots(ctx context.Context, snapshots []Snapshot) error {
	var lastErr error
	for _, snap := range snapshots {
		state := snap.State
		// Reachability and colormode are read-only; the bridge
		// rejects writes that include them.
		state.Reachable = nil
		state.ColorMode = nil
		state.Mode = nil
		if err := e.client.SetLightState(ctx, snap.LightID, state); err != nil {
			e.logger.Warn("failed to restore light", "light", snap.LightID, "error", err)
			lastErr = err
			continue
		}
		e.logger.Debug("restored light", "light", snap.LightID, "name", snap.LightName)
	}
	return lastErr
}

// LightStatus is one light's entry in a validation report.
type LightStatus struct {
	LightID       string
	LightName     string
	Reachable     bool
	SupportsColor bool
}

// ValidationReport summarizes a dry-run check of a scene.
type ValidationReport struct {
	SceneID   string
	SceneName string
	Valid     bool
	Issues    []string
	Lights    []LightStatus
}

// TestExecution checks a scene without changing any light state and
// reports everything that would make a real execution fail or degrade.
func (e *Executor) TestExecution(ctx context.Context, sceneID string) (*ValidationReport, error) {
	scene, err := e.client.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{SceneID: sceneID, SceneName: scene.Name, Valid: true}
	if scene.Locked {
		report.Valid = false
		report.Issues = append(report.Issues, "scene is locked")
	}
	if len(scene.Lights) == 0 {
		report.Valid = false
		report.Issues = append(report.Issues, "scene has no lights")
	}

	for _, lightID := range scene.Lights {
		light, err := e.client.GetLight(ctx, lightID)
		if err != nil {
			report.Valid = false
			report.Issues = append(report.Issues, fmt.Sprintf("light %s: %v", lightID, err))
			continue
		}
		status := LightStatus{
			LightID:       lightID,
			LightName:     light.Name,
			Reachable:     light.Reachable(),
			SupportsColor: light.SupportsColor(),
		}
		if !status.Reachable {
			report.Issues = append(report.Issues, fmt.Sprintf("light %s (%s) is unreachable", lightID, light.Name))
		}
		report.Lights = append(report.Lights, status)
	}
	return report, nil
}
