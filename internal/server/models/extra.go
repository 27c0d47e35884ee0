package models

import (
	"encoding/json"
	"maps"
)

// marshalWithExtra encodes known (a struct without custom marshalling) and
// folds the open extension fields into the same JSON object. Known keys win.
func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	b, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return b, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := obj[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

// splitExtra decodes data into known and returns every key that known does
// not declare.
func splitExtra(data []byte, known any, knownKeys []string) (map[string]any, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func cloneExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	return maps.Clone(extra)
}
