package led

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidScene = errors.New("invalid scene")

type SceneType string

const (
	SceneSolid    SceneType = "solid"
	SceneGradient SceneType = "gradient"
)

// ColorDuration is one step of a gradient: a colour held for Duration
// milliseconds.
type ColorDuration struct {
	Color    string `json:"color"`
	Duration int    `json:"duration"`
}

// Scene is the document stored on the scene characteristic. Solid scenes
// use Color; gradient scenes use Colors and Linear. Linear false means the
// gradient flashes between colours instead of fading.
type Scene struct {
	Name   string          `json:"name"`
	AutoOn bool            `json:"autoOn"`
	Type   SceneType       `json:"type"`
	Color  string          `json:"color,omitempty"`
	Colors []ColorDuration `json:"colors,omitempty"`
	Linear bool            `json:"linear"`
}

type solidScene struct {
	Name   string    `json:"name"`
	AutoOn bool      `json:"autoOn"`
	Type   SceneType `json:"type"`
	Color  string    `json:"color"`
}

type gradientScene struct {
	Name   string          `json:"name"`
	AutoOn bool            `json:"autoOn"`
	Type   SceneType       `json:"type"`
	Colors []ColorDuration `json:"colors"`
	Linear bool            `json:"linear"`
}

// MarshalJSON writes exactly the fields the firmware expects for s.Type.
func (s Scene) MarshalJSON() ([]byte, error) {
	switch s.Type {
	case SceneSolid:
		return json.Marshal(solidScene{Name: s.Name, AutoOn: s.AutoOn, Type: s.Type, Color: s.Color})
	case SceneGradient:
		return json.Marshal(gradientScene{Name: s.Name, AutoOn: s.AutoOn, Type: s.Type, Colors: s.Colors, Linear: s.Linear})
	default:
		type plain Scene
		return json.Marshal(plain(s))
	}
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func (s Scene) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScene)
	}
	switch s.Type {
	case SceneSolid:
		if !hexColor.MatchString(s.Color) {
			return fmt.Errorf("%w: solid scene %q has bad color %q", ErrInvalidScene, s.Name, s.Color)
		}
		if len(s.Colors) > 0 || s.Linear {
			return fmt.Errorf("%w: solid scene %q carries gradient fields", ErrInvalidScene, s.Name)
		}
	case SceneGradient:
		if s.Color != "" {
			return fmt.Errorf("%w: gradient scene %q carries a solid color", ErrInvalidScene, s.Name)
		}
		if len(s.Colors) == 0 {
			return fmt.Errorf("%w: gradient scene %q has no colors", ErrInvalidScene, s.Name)
		}
		for i, c := range s.Colors {
			if !hexColor.MatchString(c.Color) {
				return fmt.Errorf("%w: gradient scene %q color %d is %q", ErrInvalidScene, s.Name, i, c.Color)
			}
			if c.Duration <= 0 {
				return fmt.Errorf("%w: gradient scene %q color %d has duration %d", ErrInvalidScene, s.Name, i, c.Duration)
			}
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidScene, s.Type)
	}
	return nil
}
