// Package jsoncodec is the JSON codec of every crmbus envelope, backed by
// sonic in standard-library compatible mode.
package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// Raw encodes v into a json.RawMessage. A nil value encodes as JSON null.
func Raw(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
