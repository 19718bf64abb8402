package led

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScene_Validate(t *testing.T) {
	tests := []struct {
		name  string
		scene Scene
		valid bool
	}{
		{"solid", Scene{Name: "warm", Type: SceneSolid, Color: "#ffaa00"}, true},
		{"short hex", Scene{Name: "red", Type: SceneSolid, Color: "#f00"}, true},
		{"gradient", Scene{Name: "sunset", Type: SceneGradient, Colors: []ColorDuration{{"#ff0000", 500}, {"#0000ff", 800}}, Linear: true}, true},
		{"missing name", Scene{Type: SceneSolid, Color: "#ffffff"}, false},
		{"bad color", Scene{Name: "x", Type: SceneSolid, Color: "white"}, false},
		{"empty gradient", Scene{Name: "x", Type: SceneGradient}, false},
		{"zero duration", Scene{Name: "x", Type: SceneGradient, Colors: []ColorDuration{{"#ffffff", 0}}}, false},
		{"flashing gradient", Scene{Name: "party", Type: SceneGradient, Colors: []ColorDuration{{"#ff0000", 100}}}, true},
		{"solid with gradient fields", Scene{Name: "x", Type: SceneSolid, Color: "#ffffff", Linear: true}, false},
		{"gradient with solid color", Scene{Name: "x", Type: SceneGradient, Color: "#ffffff", Colors: []ColorDuration{{"#ffffff", 10}}}, false},
		{"unknown type", Scene{Name: "x", Type: "strobe"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scene.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidScene)
			}
		})
	}
}

func TestScene_JSONShape(t *testing.T) {
	var s Scene
	doc := `{"name":"sunset","autoOn":true,"type":"gradient","colors":[{"color":"#ff0000","duration":500}],"linear":false}`
	require.NoError(t, json.Unmarshal([]byte(doc), &s))
	assert.Equal(t, SceneGradient, s.Type)
	assert.True(t, s.AutoOn)
	require.Len(t, s.Colors, 1)
	assert.Equal(t, 500, s.Colors[0].Duration)

	out, err := json.Marshal(Scene{Name: "warm", Type: SceneSolid, Color: "#ffaa00"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"warm","autoOn":false,"type":"solid","color":"#ffaa00"}`, string(out))
}

func TestScene_GradientAlwaysCarriesLinear(t *testing.T) {
	flashing := Scene{Name: "fade", Type: SceneGradient, Colors: []ColorDuration{{"#ff0000", 250}, {"#00ff00", 250}}}
	out, err := json.Marshal(flashing)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fade","autoOn":false,"type":"gradient","colors":[{"color":"#ff0000","duration":250},{"color":"#00ff00","duration":250}],"linear":false}`, string(out))

	var back Scene
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, flashing, back)

	fading := flashing
	fading.Linear = true
	out, err = json.Marshal(&fading)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"linear":true`)
}

func TestProfile_Validate(t *testing.T) {
	require.NoError(t, DefaultProfile().Validate())

	p := DefaultProfile()
	p.Time = uuid.Nil
	assert.ErrorContains(t, p.Validate(), "time uuid is not set")

	p = DefaultProfile()
	p.TimeTasks = p.Scene
	assert.ErrorContains(t, p.Validate(), "share uuid")

	assert.Equal(t, "scene", DefaultProfile().Endpoint(DefaultProfile().Scene))
	assert.Equal(t, "time_tasks", DefaultProfile().Endpoint(DefaultProfile().TimeTasks))
}
