package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/bulbd/internal/store"
)

// BlobVersion is the current blob layout.
const BlobVersion = 1

var (
	ErrCorrupt            = errors.New("state blob is corrupt")
	ErrUnsupportedVersion = errors.New("unsupported state blob version")
)

type blob struct {
	Version int           `json:"version"`
	Lights  []store.Entry `json:"lights"`
}

// Encode serializes the at-rest light states.
func Encode(entries []store.Entry) ([]byte, error) {
	return json.Marshal(blob{Version: BlobVersion, Lights: entries})
}

// Decode parses a blob written by Encode.
func Decode(b []byte) ([]store.Entry, error) {
	var v blob
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if v.Version != BlobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v.Version)
	}
	return v.Lights, nil
}

// Restorer accepts decoded entries; *store.Store implements it.
type Restorer interface {
	Restore(entries []store.Entry) (int, error)
}

// Restore loads the saved blob from b into st. It returns the number of lights
// restored; a missing blob restores nothing and is not an error.
func Restore(b Backend, st Restorer) (int, error) {
	raw, ok, err := b.Load()
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return 0, nil
	}
	entries, err := Decode(raw)
	if err != nil {
		return 0, err
	}
	return st.Restore(entries)
}
