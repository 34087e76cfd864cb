package scenes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/angristan/huestatus/internal/api"
	"github.com/google/uuid"
)

// Scene names as stored on the bridge.
const (
	SceneNameSuccess = "huestatus-success"
	SceneNameFailure = "huestatus-failure"
)

// Status selects which of the two status scenes to act on.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// SceneName returns the bridge-side name for the status.
func (s Status) SceneName() string {
	if s == StatusFailure {
		return SceneNameFailure
	}
	return SceneNameSuccess
}

// Color returns the color definition for the status.
func (s Status) Color() ColorDefinition {
	if s == StatusFailure {
		return FailureColor()
	}
	return SuccessColor()
}

// CreationResult reports the scenes created in one pass.
type CreationResult struct {
	SuccessSceneID string
	FailureSceneID string
	Lights         []string
	Tag            string
}

// Manager owns the lifecycle of the success and failure scenes: it
// creates them against the suitable lights, executes them, and keeps
// them valid as the light population changes.
type Manager struct {
	client         *api.Client
	logger         *slog.Logger
	successSceneID string
	failureSceneID string
}

// NewManager creates a manager. Scene IDs may be empty when the scenes
// have not been created yet.
func NewManager(client *api.Client, successSceneID, failureSceneID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:         client,
		logger:         logger,
		successSceneID: successSceneID,
		failureSceneID: failureSceneID,
	}
}

// SceneID returns the stored scene ID for a status, empty if unknown.
func (m *Manager) SceneID(status Status) string {
	if status == StatusFailure {
		return m.failureSceneID
	}
	return m.successSceneID
}

// CreateStatusScenes builds both status scenes over the currently
// suitable lights and stores their IDs. Existing scenes with the same
// IDs are replaced.
func (m *Manager) CreateStatusScenes(ctx context.Context) (*CreationResult, error) {
	suitable, err := m.client.SuitableLights(ctx)
	if err != nil {
		return nil, err
	}
	lightIDs := make([]string, len(suitable))
	for i, s := range suitable {
		lightIDs[i] = s.ID
	}
	m.logger.Debug("creating status scenes", "lights", len(lightIDs))

	// Pairs of scenes from the same run share a tag, so stale siblings
	// can be identified later.
	tag := "huestatus-" + uuid.NewString()[:8]

	successID, err := m.createScene(ctx, StatusSuccess, lightIDs, tag)
	if err != nil {
		return nil, err
	}
	failureID, err := m.createScene(ctx, StatusFailure, lightIDs, tag)
	if err != nil {
		// Leave no half-created pair behind.
		if delErr := m.client.DeleteScene(ctx, successID); delErr != nil {
			m.logger.Warn("failed to clean up partial scene", "scene", successID, "error", delErr)
		}
		return nil, err
	}

	m.successSceneID = successID
	m.failureSceneID = failureID
	return &CreationResult{
		SuccessSceneID: successID,
		FailureSceneID: failureID,
		Lights:         lightIDs,
		Tag:            tag,
	}, nil
}

func (m *Manager) createScene(ctx context.Context, status Status, lightIDs []string, tag string) (string, error) {
	req, err := NewBuilder(status.SceneName()).
		Lights(lightIDs...).
		Color(status.Color()).
		AppData(1, tag).
		Build()
	if err != nil {
		return "", err
	}
	id, err := m.client.CreateScene(ctx, req)
	if err != nil {
		return "", err
	}
	m.logger.Debug("created scene", "name", req.Name, "id", id)
	return id, nil
}

// ExecuteStatusScene applies the scene for the given status.
func (m *Manager) ExecuteStatusScene(ctx context.Context, status Status, opts Options) (*Result, error) {
	sceneID := m.SceneID(status)
	if sceneID == "" {
		return nil, &api.Error{
			Kind:   api.KindScene,
			Op:     "execute status scene",
			Reason: fmt.Sprintf("no %s scene configured, run setup", status),
		}
	}
	executor := NewExecutor(m.client, opts, m.logger)
	result := executor.Execute(ctx, sceneID, Immediate())
	if result.Error != nil {
		return result, result.Error
	}
	return result, nil
}

// ValidateStatusScenes checks both stored scenes still exist and are
// usable.
func (m *Manager) ValidateStatusScenes(ctx context.Context) error {
	for _, pair := range []struct {
		status Status
		id     string
	}{
		{StatusSuccess, m.successSceneID},
		{StatusFailure, m.failureSceneID},
	} {
		if pair.id == "" {
			return &api.Error{
				Kind:   api.KindScene,
				Op:     "validate status scenes",
				Reason: fmt.Sprintf("no %s scene configured", pair.status),
			}
		}
		if err := m.client.ValidateScene(ctx, pair.id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteStatusScenes removes both stored scenes from the bridge.
// Scenes already gone are not an error.
func (m *Manager) DeleteStatusScenes(ctx context.Context) error {
	for _, id := range []string{m.successSceneID, m.failureSceneID} {
		if id == "" {
			continue
		}
		exists, err := m.client.SceneExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := m.client.DeleteScene(ctx, id); err != nil {
			return err
		}
		m.logger.Debug("deleted scene", "id", id)
	}
	m.successSceneID = ""
	m.failureSceneID = ""
	return nil
}

// RefreshStatusScenes rebuilds both scenes over the current lights,
// replacing the stored pair.
func (m *Manager) RefreshStatusScenes(ctx context.Context) (*CreationResult, error) {
	if err := m.DeleteStatusScenes(ctx); err != nil {
		return nil, err
	}
	return m.CreateStatusScenes(ctx)
}
