package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotJSON = errors.New("payload is not a JSON document")

// ReadJSONFile loads a JSON document from path, "-" meaning stdin. Binary
// files are rejected before they are parsed.
func ReadJSONFile(path string) (json.RawMessage, error) {
	if path == "-" {
		return ReadJSON(os.Stdin)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// ReadJSON reads r fully and checks that it holds a single JSON document.
func ReadJSON(r io.Reader) (json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "text/") && !mt.Is("application/json") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotJSON, mt.String())
	}
	if !json.Valid(data) {
		return nil, ErrNotJSON
	}
	return json.RawMessage(data), nil
}
