package codec

import "encoding/json"

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error)     { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                     { return NameJSON }
