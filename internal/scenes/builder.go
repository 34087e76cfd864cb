// Package scenes builds, validates, and executes status scenes on a
// Hue bridge.
package scenes

import (
	"github.com/angristan/huestatus/internal/api"
)

// ColorDefinition describes a scene color in the bridge's HSB space.
type ColorDefinition struct {
	Name       string
	Hue        uint16
	Saturation uint8
	Brightness uint8
}

// LightState converts the color to a full on-state for a light.
func (c ColorDefinition) LightState() api.LightState {
	hue := c.Hue
	sat := c.Saturation
	bri := c.Brightness
	colormode := "hs"
	return api.LightState{
		On:        true,
		Hue:       &hue,
		Sat:       &sat,
		Bri:       &bri,
		ColorMode: &colormode,
	}
}

// SuccessColor is the green used for success status.
func SuccessColor() ColorDefinition {
	return ColorDefinition{Name: "green", Hue: 21845, Saturation: 254, Brightness: 254}
}

// FailureColor is the red used for failure status.
func FailureColor() ColorDefinition {
	return ColorDefinition{Name: "red", Hue: 0, Saturation: 254, Brightness: 254}
}

// WarmWhiteColor is a low-saturation warm white.
func WarmWhiteColor() ColorDefinition {
	return ColorDefinition{Name: "warm white", Hue: 8000, Saturation: 140, Brightness: 254}
}

// CoolWhiteColor is a near-daylight white.
func CoolWhiteColor() ColorDefinition {
	return ColorDefinition{Name: "cool white", Hue: 39000, Saturation: 40, Brightness: 254}
}

// BlueColor is a saturated blue.
func BlueColor() ColorDefinition {
	return ColorDefinition{Name: "blue", Hue: 43690, Saturation: 254, Brightness: 254}
}

// OrangeColor is a saturated orange.
func OrangeColor() ColorDefinition {
	return ColorDefinition{Name: "orange", Hue: 5461, Saturation: 254, Brightness: 254}
}

// PurpleColor is a saturated purple.
func PurpleColor() ColorDefinition {
	return ColorDefinition{Name: "purple", Hue: 50000, Saturation: 254, Brightness: 254}
}

// Builder assembles a scene creation request light by light.
type Builder struct {
	name        string
	lights      []string
	recycle     bool
	appData     *api.AppData
	color       *ColorDefinition
	brightness  *uint8
	lightStates map[string]api.LightState
}

// NewBuilder starts a scene with the given name. Scenes are recyclable
// by default so the bridge may reclaim them under scene pressure.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:        name,
		recycle:     true,
		lightStates: make(map[string]api.LightState),
	}
}

// Lights sets the lights the scene covers.
func (b *Builder) Lights(ids ...string) *Builder {
	b.lights = append(b.lights, ids...)
	return b
}

// Color applies a uniform color to every light without an explicit
// state.
func (b *Builder) Color(color ColorDefinition) *Builder {
	b.color = &color
	return b
}

// Brightness overrides the color's brightness for every derived state.
func (b *Builder) Brightness(bri uint8) *Builder {
	b.brightness = &bri
	return b
}

// Recyclable controls whether the bridge may reclaim the scene.
func (b *Builder) Recyclable(recycle bool) *Builder {
	b.recycle = recycle
	return b
}

// AppData attaches an application tag to the scene.
func (b *Builder) AppData(version int, data string) *Builder {
	b.appData = &api.AppData{Version: version, Data: data}
	return b
}

// LightState sets an explicit state for one light, overriding the
// uniform color.
func (b *Builder) LightState(id string, state api.LightState) *Builder {
	b.lightStates[id] = state
	return b
}

// Build produces the validated creation request.
func (b *Builder) Build() (api.CreateSceneRequest, error) {
	states := make(map[string]api.LightState, len(b.lights))
	for _, id := range b.lights {
		if state, ok := b.lightStates[id]; ok {
			states[id] = state
			continue
		}
		if b.color == nil {
			return api.CreateSceneRequest{}, &api.Error{
				Kind:   api.KindValidation,
				Op:     "build scene",
				Reason: "light " + id + " has no state and no color is set",
			}
		}
		state := b.color.LightState()
		if b.brightness != nil {
			bri := *b.brightness
			state.Bri = &bri
		}
		states[id] = state
	}

	req := api.CreateSceneRequest{
		Name:        b.name,
		Lights:      b.lights,
		Recycle:     b.recycle,
		AppData:     b.appData,
		LightStates: states,
	}
	if err := req.Validate(); err != nil {
		return api.CreateSceneRequest{}, err
	}
	return req, nil
}
