package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Snapshot payloads are flat record lists, which JSON represents stably and
// portably. If you need a custom encoding, implement Codec and pass it via
// the snapshot options; persisted files always record the codec name so
// they can be validated on load.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = JSON{}
