package api

// BridgeConfig is the bridge's /config resource, trimmed to the fields
// this tool consumes.
type BridgeConfig struct {
	Name       string `json:"name"`
	BridgeID   string `json:"bridgeid"`
	ModelID    string `json:"modelid"`
	APIVersion string `json:"apiversion"`
	SWVersion  string `json:"swversion"`
	LinkButton bool   `json:"linkbutton"`
}

// Capabilities reports the bridge's resource limits.
type Capabilities struct {
	Lights  CapabilityLimits `json:"lights"`
	Sensors CapabilityLimits `json:"sensors"`
	Groups  CapabilityLimits `json:"groups"`
	Scenes  CapabilityLimits `json:"scenes"`
}

type CapabilityLimits struct {
	Available int `json:"available"`
	Total     int `json:"total"`
}

// Light is a light as reported by the bridge's V1 API.
type Light struct {
	Name             string             `json:"name"`
	State            LightState         `json:"state"`
	Type             string             `json:"type"`
	ModelID          string             `json:"modelid"`
	ManufacturerName string             `json:"manufacturername"`
	ProductName      string             `json:"productname,omitempty"`
	SWVersion        string             `json:"swversion,omitempty"`
	Capabilities     *LightCapabilities `json:"capabilities,omitempty"`
}

// LightState carries the mutable state of a light. Optional fields are
// pointers so that omitted attributes round-trip without inventing zero
// values.
type LightState struct {
	On        bool        `json:"on"`
	Bri       *uint8      `json:"bri,omitempty"`
	Hue       *uint16     `json:"hue,omitempty"`
	Sat       *uint8      `json:"sat,omitempty"`
	Effect    *string     `json:"effect,omitempty"`
	XY        *[2]float64 `json:"xy,omitempty"`
	CT        *uint16     `json:"ct,omitempty"`
	Alert     *string     `json:"alert,omitempty"`
	ColorMode *string     `json:"colormode,omitempty"`
	Mode      *string     `json:"mode,omitempty"`
	Reachable *bool       `json:"reachable,omitempty"`
}

type LightCapabilities struct {
	Certified bool         `json:"certified"`
	Control   LightControl `json:"control"`
}

type LightControl struct {
	MinDimLevel    *int           `json:"mindimlevel,omitempty"`
	MaxLumen       *int           `json:"maxlumen,omitempty"`
	ColorGamutType *string        `json:"colorgamuttype,omitempty"`
	ColorGamut     *[3][2]float64 `json:"colorgamut,omitempty"`
	CT             *CTRange       `json:"ct,omitempty"`
}

type CTRange struct {
	Min uint16 `json:"min"`
	Max uint16 `json:"max"`
}

// Reachable reports whether the bridge currently sees the light.
func (l *Light) Reachable() bool {
	return l.State.Reachable != nil && *l.State.Reachable
}

// SupportsColor reports whether the light has a color gamut.
func (l *Light) SupportsColor() bool {
	return l.Capabilities != nil && l.Capabilities.Control.ColorGamut != nil
}

// SupportsColorTemperature reports whether the light has a ct range.
func (l *Light) SupportsColorTemperature() bool {
	return l.Capabilities != nil && l.Capabilities.Control.CT != nil
}

// SuitableForStatus reports whether the light can usefully signal a
// status color: it must be reachable and support color or color
// temperature.
func (l *Light) SuitableForStatus() bool {
	return l.Reachable() && (l.SupportsColor() || l.SupportsColorTemperature())
}

// Scene is a bridge-stored scene.
type Scene struct {
	Name        string                `json:"name"`
	Lights      []string              `json:"lights"`
	Owner       string                `json:"owner"`
	Recycle     bool                  `json:"recycle"`
	Locked      bool                  `json:"locked"`
	AppData     *AppData              `json:"appdata,omitempty"`
	LastUpdated string                `json:"lastupdated"`
	Version     int                   `json:"version"`
	LightStates map[string]LightState `json:"lightstates,omitempty"`
}

// AppData is the free-form application tag attached to a scene.
type AppData struct {
	Version int    `json:"version"`
	Data    string `json:"data"`
}

// SuitableForStatus reports whether the scene can be used for status
// signaling: unlocked and referencing at least one light.
func (s *Scene) SuitableForStatus() bool {
	return !s.Locked && len(s.Lights) > 0
}

// Group is a bridge light group.
type Group struct {
	Name   string     `json:"name"`
	Lights []string   `json:"lights"`
	Type   string     `json:"type"`
	State  GroupState `json:"state"`
}

type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// CreateSceneRequest is the body for POST /scenes.
type CreateSceneRequest struct {
	Name        string                `json:"name"`
	Lights      []string              `json:"lights"`
	Recycle     bool                  `json:"recycle"`
	AppData     *AppData              `json:"appdata,omitempty"`
	LightStates map[string]LightState `json:"lightstates"`
}

// Validate checks the request for the constraints the bridge enforces,
// so that obviously broken requests fail before going on the wire.
func (r *CreateSceneRequest) Validate() error {
	if r.Name == "" {
		return &Error{Kind: KindValidation, Op: "create scene", Reason: "scene name cannot be empty"}
	}
	if len(r.Lights) == 0 {
		return &Error{Kind: KindValidation, Op: "create scene", Reason: "scene must have at least one light"}
	}
	if len(r.LightStates) == 0 {
		return &Error{Kind: KindValidation, Op: "create scene", Reason: "scene must have light states"}
	}
	for _, id := range r.Lights {
		state, ok := r.LightStates[id]
		if !ok {
			return &Error{
				Kind:   KindValidation,
				Op:     "create scene",
				Reason: "light " + id + " has no corresponding light state",
			}
		}
		if err := state.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a light state for values the bridge rejects.
func (s *LightState) Validate() error {
	if s.Bri != nil && *s.Bri == 0 {
		return &Error{Kind: KindValidation, Op: "light state", Reason: "brightness cannot be 0 (use on: false instead)"}
	}
	return nil
}

// SceneActionRequest is the body for PUT /groups/{id}/action when
// recalling a scene.
type SceneActionRequest struct {
	Scene string `json:"scene"`
}

// CreateSceneResponse is one element of the bridge's reply to scene
// creation.
type CreateSceneResponse struct {
	Success struct {
		ID string `json:"id"`
	} `json:"success"`
}

// ActionResponse is one element of the bridge's reply to a group action.
type ActionResponse struct {
	Success map[string]any `json:"success"`
}

// BridgeInfo is the discovery-record wire type used by the cloud lookup
// service and persisted candidate metadata.
type BridgeInfo struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
	Port              int    `json:"port,omitempty"`
	Name              string `json:"name,omitempty"`
	ModelID           string `json:"modelid,omitempty"`
	SWVersion         string `json:"swversion,omitempty"`
}
