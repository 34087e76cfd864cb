package scenes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angristan/huestatus/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sceneStore is a minimal bridge emulation for scene lifecycle tests.
type sceneStore struct {
	mu     sync.Mutex
	scenes map[string]api.Scene
	nextID int
	server *httptest.Server
}

func newSceneStore(t *testing.T) *sceneStore {
	t.Helper()
	st := &sceneStore{scenes: make(map[string]api.Scene)}
	reachable := true
	gamut := [3][2]float64{{0.7, 0.3}, {0.17, 0.7}, {0.15, 0.04}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/testuser/lights", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]api.Light{
			"1": {
				Name:         "Desk",
				State:        api.LightState{Reachable: &reachable},
				Capabilities: &api.LightCapabilities{Control: api.LightControl{ColorGamut: &gamut}},
			},
			"2": {
				Name:         "Shelf",
				State:        api.LightState{Reachable: &reachable},
				Capabilities: &api.LightCapabilities{Control: api.LightControl{ColorGamut: &gamut}},
			},
		})
	})
	mux.HandleFunc("POST /api/testuser/scenes", func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateSceneRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		st.mu.Lock()
		st.nextID++
		id := fmt.Sprintf("scene-%d", st.nextID)
		st.scenes[id] = api.Scene{
			Name:        req.Name,
			Lights:      req.Lights,
			Recycle:     req.Recycle,
			AppData:     req.AppData,
			LightStates: req.LightStates,
		}
		st.mu.Unlock()

		fmt.Fprintf(w, `[{"success":{"id":%q}}]`, id)
	})
	mux.HandleFunc("GET /api/testuser/scenes/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/testuser/scenes/")
		st.mu.Lock()
		scene, ok := st.scenes[id]
		st.mu.Unlock()
		if !ok {
			fmt.Fprintf(w, `[{"error":{"type":3,"address":"/scenes/%s","description":"resource not available"}}]`, id)
			return
		}
		json.NewEncoder(w).Encode(scene)
	})
	mux.HandleFunc("DELETE /api/testuser/scenes/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/testuser/scenes/")
		st.mu.Lock()
		delete(st.scenes, id)
		st.mu.Unlock()
		w.Write([]byte(`[{"success":"deleted"}]`))
	})
	mux.HandleFunc("PUT /api/testuser/groups/0/action", func(w http.ResponseWriter, r *http.Request) {
		var req api.SceneActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		st.mu.Lock()
		_, ok := st.scenes[req.Scene]
		st.mu.Unlock()
		if !ok {
			fmt.Fprintf(w, `[{"error":{"type":7,"address":"/groups/0/action/scene","description":"invalid value, %s"}}]`, req.Scene)
			return
		}
		w.Write([]byte(`[{"success":{"/groups/0/action/scene":"ok"}}]`))
	})

	st.server = httptest.NewServer(mux)
	t.Cleanup(st.server.Close)
	return st
}

func (st *sceneStore) client() *api.Client {
	return api.NewClient(api.ClientConfig{
		Host:          st.server.Listener.Addr().String(),
		Username:      "testuser",
		Timeout:       2 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    10 * time.Millisecond,
	})
}

func (st *sceneStore) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.scenes)
}

func TestCreateStatusScenes(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)

	created, err := m.CreateStatusScenes(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, created.SuccessSceneID)
	assert.NotEmpty(t, created.FailureSceneID)
	assert.NotEqual(t, created.SuccessSceneID, created.FailureSceneID)
	assert.Equal(t, []string{"1", "2"}, created.Lights)
	assert.True(t, strings.HasPrefix(created.Tag, "huestatus-"))
	assert.Equal(t, 2, st.count())

	st.mu.Lock()
	success := st.scenes[created.SuccessSceneID]
	failure := st.scenes[created.FailureSceneID]
	st.mu.Unlock()

	assert.Equal(t, SceneNameSuccess, success.Name)
	assert.Equal(t, SceneNameFailure, failure.Name)
	require.NotNil(t, success.AppData)
	assert.Equal(t, success.AppData.Data, failure.AppData.Data, "pairs share a tag")
	assert.EqualValues(t, 21845, *success.LightStates["1"].Hue)
	assert.EqualValues(t, 0, *failure.LightStates["1"].Hue)
}

func TestExecuteStatusScene(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)
	_, err := m.CreateStatusScenes(context.Background())
	require.NoError(t, err)

	result, err := m.ExecuteStatusScene(context.Background(), StatusSuccess, FastOptions())

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecuteStatusSceneUnconfigured(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)

	_, err := m.ExecuteStatusScene(context.Background(), StatusFailure, FastOptions())

	require.Error(t, err)
	assert.Equal(t, api.KindScene, api.KindOf(err))
}

func TestValidateStatusScenes(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)
	created, err := m.CreateStatusScenes(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.ValidateStatusScenes(context.Background()))

	// Simulate the bridge reclaiming one scene.
	st.mu.Lock()
	delete(st.scenes, created.FailureSceneID)
	st.mu.Unlock()

	err = m.ValidateStatusScenes(context.Background())
	require.Error(t, err)
}

func TestDeleteStatusScenes(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)
	_, err := m.CreateStatusScenes(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.DeleteStatusScenes(context.Background()))
	assert.Equal(t, 0, st.count())
	assert.Empty(t, m.SceneID(StatusSuccess))

	// Deleting again is a no-op, not an error.
	require.NoError(t, m.DeleteStatusScenes(context.Background()))
}

func TestRefreshStatusScenes(t *testing.T) {
	st := newSceneStore(t)
	m := NewManager(st.client(), "", "", nil)
	first, err := m.CreateStatusScenes(context.Background())
	require.NoError(t, err)

	second, err := m.RefreshStatusScenes(context.Background())

	require.NoError(t, err)
	assert.NotEqual(t, first.SuccessSceneID, second.SuccessSceneID)
	assert.Equal(t, 2, st.count(), "refresh replaces rather than accumulates")
}

func TestStatusHelpers(t *testing.T) {
	assert.Equal(t, SceneNameSuccess, StatusSuccess.SceneName())
	assert.Equal(t, SceneNameFailure, StatusFailure.SceneName())
	assert.EqualValues(t, 21845, StatusSuccess.Color().Hue)
	assert.EqualValues(t, 0, StatusFailure.Color().Hue)
}
