package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONBytes flattens one JSON object into Fields. Numbers keep their
// literal form so long parcel ids survive.
func ParseJSONBytes(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]any) Fields {
	fields := Fields{}
	for key, val := range obj {
		if val == nil {
			continue
		}
		switch v := val.(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			fields[strings.ToLower(key)] = string(raw)
		default:
			fields[strings.ToLower(key)] = fmt.Sprint(v)
		}
	}
	return fields
}
