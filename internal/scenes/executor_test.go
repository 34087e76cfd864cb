package scenes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angristan/huestatus/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge is a scripted bridge serving one scene over two lights.
// Scene recalls can be failed per scene ID.
type fakeBridge struct {
	server *httptest.Server

	mu         sync.Mutex
	executions map[string]int
	failScenes map[string]bool

	restores          atomic.Int32
	lockScene         atomic.Bool
	lightsUnreachable atomic.Bool
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		executions: make(map[string]int),
		failScenes: make(map[string]bool),
	}
	bri := uint8(120)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/testuser/scenes/scene-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Scene{
			Name:    "huestatus-success",
			Lights:  []string{"1", "2"},
			Locked:  fb.lockScene.Load(),
			Recycle: true,
		})
	})
	mux.HandleFunc("GET /api/testuser/lights/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/testuser/lights/")
		reachable := !fb.lightsUnreachable.Load()
		json.NewEncoder(w).Encode(api.Light{
			Name:  "Light " + id,
			State: api.LightState{On: true, Bri: &bri, Reachable: &reachable},
		})
	})
	mux.HandleFunc("PUT /api/testuser/groups/0/action", func(w http.ResponseWriter, r *http.Request) {
		var req api.SceneActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fb.mu.Lock()
		fb.executions[req.Scene]++
		fail := fb.failScenes[req.Scene]
		fb.mu.Unlock()

		if fail {
			w.Write([]byte(`[{"error":{"type":7,"address":"/groups/0/action","description":"invalid value"}}]`))
			return
		}
		w.Write([]byte(`[{"success":{"/groups/0/action/scene":"ok"}}]`))
	})
	mux.HandleFunc("PUT /api/testuser/lights/", func(w http.ResponseWriter, r *http.Request) {
		fb.restores.Add(1)
		w.Write([]byte(`[{"success":{}}]`))
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBridge) failScene(id string) {
	fb.mu.Lock()
	fb.failScenes[id] = true
	fb.mu.Unlock()
}

func (fb *fakeBridge) executed(id string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.executions[id]
}

func (fb *fakeBridge) totalExecutions() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	total := 0
	for _, n := range fb.executions {
		total += n
	}
	return total
}

func (fb *fakeBridge) client() *api.Client {
	return api.NewClient(api.ClientConfig{
		Host:          fb.server.Listener.Addr().String(),
		Username:      "testuser",
		Timeout:       2 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    10 * time.Millisecond,
	})
}

func testOptions() Options {
	return Options{
		Timeout:         2 * time.Second,
		RetryOnFailure:  true,
		MaxRetries:      3,
		RetryDelay:      10 * time.Millisecond,
		CaptureSnapshot: false,
	}
}

func TestExecuteImmediateSuccess(t *testing.T) {
	fb := newFakeBridge(t)
	e := NewExecutor(fb.client(), testOptions(), nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Metrics.Attempts)
	assert.Equal(t, 1, fb.executed("scene-1"))
}

func TestExecuteRetriesFailures(t *testing.T) {
	fb := newFakeBridge(t)
	fb.failScene("scene-1")
	e := NewExecutor(fb.client(), testOptions(), nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.Error(t, result.Error)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Metrics.Attempts)
	assert.Equal(t, 3, fb.executed("scene-1"))
}

func TestExecuteValidationStopsBeforeLightChanges(t *testing.T) {
	fb := newFakeBridge(t)
	fb.lockScene.Store(true)

	opts := testOptions()
	opts.ValidateBeforeExecution = true
	e := NewExecutor(fb.client(), opts, nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.Error(t, result.Error)
	assert.Equal(t, api.KindScene, api.KindOf(result.Error))
	assert.Equal(t, 0, fb.totalExecutions(), "a failed validation must not touch lights")
}

func TestExecuteValidationRejectsUnreachableLights(t *testing.T) {
	fb := newFakeBridge(t)
	fb.lightsUnreachable.Store(true)

	opts := testOptions()
	opts.ValidateBeforeExecution = true
	e := NewExecutor(fb.client(), opts, nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.Error(t, result.Error)
	assert.Equal(t, api.KindValidation, api.KindOf(result.Error))
	assert.Contains(t, result.Error.Error(), "Light 1")
	assert.Equal(t, 0, fb.totalExecutions(), "unreachable lights must abort before any light changes")
}

func TestExecuteCapturesSnapshot(t *testing.T) {
	fb := newFakeBridge(t)
	opts := testOptions()
	opts.CaptureSnapshot = true
	e := NewExecutor(fb.client(), opts, nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.NoError(t, result.Error)
	require.Len(t, result.Snapshots, 2)
	assert.Equal(t, "1", result.Snapshots[0].LightID)
	require.NotNil(t, result.Snapshots[0].State.Bri)
	assert.EqualValues(t, 120, *result.Snapshots[0].State.Bri)
	assert.True(t, result.Metrics.Snapshot)
}

func TestExecuteWithRollbackReturnsOriginalError(t *testing.T) {
	fb := newFakeBridge(t)
	fb.failScene("scene-1")

	opts := testOptions()
	opts.MaxRetries = 1
	opts.RetryOnFailure = false
	e := NewExecutor(fb.client(), opts, nil)

	result := e.ExecuteWithRollback(context.Background(), "scene-1", "scene-prior")

	require.Error(t, result.Error)
	assert.Equal(t, api.KindScene, api.KindOf(result.Error), "a successful rollback never masks the primary error")
	assert.Equal(t, 1, fb.executed("scene-prior"), "rollback scene applied exactly once")
}

func TestExecuteWithRollbackSwallowsRollbackFailure(t *testing.T) {
	fb := newFakeBridge(t)
	fb.failScene("scene-1")
	fb.failScene("scene-prior")

	opts := testOptions()
	opts.MaxRetries = 1
	opts.RetryOnFailure = false
	e := NewExecutor(fb.client(), opts, nil)

	result := e.ExecuteWithRollback(context.Background(), "scene-1", "scene-prior")

	require.Error(t, result.Error)
	assert.Equal(t, 1, fb.executed("scene-prior"), "a failed rollback is not retried")
}

func TestExecuteWithRollbackSkipsRollbackOnSuccess(t *testing.T) {
	fb := newFakeBridge(t)
	e := NewExecutor(fb.client(), testOptions(), nil)

	result := e.ExecuteWithRollback(context.Background(), "scene-1", "scene-prior")

	require.NoError(t, result.Error)
	assert.Equal(t, 0, fb.executed("scene-prior"))
}

func TestBackupStrategyRestoresSnapshotOnFailure(t *testing.T) {
	fb := newFakeBridge(t)
	fb.failScene("scene-1")

	opts := testOptions()
	opts.MaxRetries = 1
	opts.RetryOnFailure = false
	e := NewExecutor(fb.client(), opts, nil)

	result := e.Execute(context.Background(), "scene-1", BackupAndRestore())

	require.Error(t, result.Error)
	assert.EqualValues(t, 2, fb.restores.Load(), "both lights restored exactly once")
}

func TestDelayedStrategyWaits(t *testing.T) {
	fb := newFakeBridge(t)
	e := NewExecutor(fb.client(), testOptions(), nil)

	start := time.Now()
	result := e.Execute(context.Background(), "scene-1", Delayed(50*time.Millisecond))

	require.NoError(t, result.Error)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestValidationFailureNotRetried(t *testing.T) {
	// A locked scene fails deterministically; the retry budget must
	// not be spent on it.
	fb := newFakeBridge(t)
	fb.lockScene.Store(true)

	opts := testOptions()
	opts.ValidateBeforeExecution = true
	e := NewExecutor(fb.client(), opts, nil)

	result := e.Execute(context.Background(), "scene-1", Immediate())

	require.Error(t, result.Error)
	assert.Equal(t, 0, fb.totalExecutions())
}

func TestTestExecutionReport(t *testing.T) {
	fb := newFakeBridge(t)
	e := NewExecutor(fb.client(), testOptions(), nil)

	report, err := e.TestExecution(context.Background(), "scene-1")

	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	require.Len(t, report.Lights, 2)
	assert.Equal(t, "Light 1", report.Lights[0].LightName)
	assert.True(t, report.Lights[0].Reachable)
	assert.Equal(t, 0, fb.totalExecutions(), "dry runs never change light state")
}

func TestTestExecutionFlagsLockedScene(t *testing.T) {
	fb := newFakeBridge(t)
	fb.lockScene.Store(true)
	e := NewExecutor(fb.client(), testOptions(), nil)

	report, err := e.TestExecution(context.Background(), "scene-1")

	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Issues, "scene is locked")
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "immediate", Immediate().String())
	assert.Equal(t, "delayed(1s)", Delayed(time.Second).String())
	assert.Equal(t, "fade(2s)", Fade(2*time.Second).String())
	assert.Equal(t, "validated", Validated().String())
	assert.Equal(t, "backup-and-restore", BackupAndRestore().String())
}

func TestPerformanceScore(t *testing.T) {
	fast := Metrics{StartedAt: time.Now(), FinishedAt: time.Now().Add(200 * time.Millisecond), Attempts: 1}
	assert.Equal(t, 100, fast.PerformanceScore())

	retried := Metrics{StartedAt: time.Now(), FinishedAt: time.Now().Add(200 * time.Millisecond), Attempts: 3}
	assert.Equal(t, 70, retried.PerformanceScore())

	slow := Metrics{StartedAt: time.Now(), FinishedAt: time.Now().Add(30 * time.Second), Attempts: 1}
	assert.Equal(t, 0, slow.PerformanceScore())
}

func TestOptionPresets(t *testing.T) {
	def := DefaultOptions()
	assert.Equal(t, 5*time.Second, def.Timeout)
	assert.Equal(t, 3, def.MaxRetries)
	assert.True(t, def.CaptureSnapshot)
	assert.False(t, def.RollbackOnFailure)

	fast := FastOptions()
	assert.Equal(t, 2*time.Second, fast.Timeout)
	assert.False(t, fast.RetryOnFailure)
	assert.False(t, fast.CaptureSnapshot)

	reliable := ReliableOptions()
	assert.True(t, reliable.ValidateBeforeExecution)
	assert.Equal(t, 5, reliable.MaxRetries)
	assert.True(t, reliable.RollbackOnFailure)
}
