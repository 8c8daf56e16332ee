package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// configToJSON funnels both supported file formats into one strict decode
// path: a .yaml/.yml file is unmarshaled and re-marshaled as JSON so that
// DisallowUnknownFields applies to it too, anything else is treated as JSON
// and passed through untouched.
func configToJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites the map[any]any maps the YAML decoder can produce
// into map[string]any so the tree survives json.Marshal.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}
