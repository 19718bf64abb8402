package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	t.Run("scene document", func(t *testing.T) {
		doc, err := ReadJSONFile(write("scene.json", []byte(`{"name":"warm","type":"solid","color":"#ffaa00"}`)))
		require.NoError(t, err)
		assert.Contains(t, string(doc), `"warm"`)
	})

	t.Run("array document", func(t *testing.T) {
		doc, err := ReadJSONFile(write("tasks.json", []byte(`[]`)))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(doc))
	})

	t.Run("binary file", func(t *testing.T) {
		_, err := ReadJSONFile(write("image.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
		assert.ErrorIs(t, err, ErrNotJSON)
	})

	t.Run("broken JSON", func(t *testing.T) {
		_, err := ReadJSONFile(write("broken.json", []byte(`{"name":`)))
		assert.ErrorIs(t, err, ErrNotJSON)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadJSONFile(dir)
		assert.ErrorContains(t, err, "is a directory")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadJSONFile(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestReadJSON(t *testing.T) {
	doc, err := ReadJSON(strings.NewReader(` {"autoOn": true} `))
	require.NoError(t, err)
	assert.JSONEq(t, `{"autoOn": true}`, string(doc))
}
