package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Include names the relations to load with each result. A nil value loads
// the relation alone, a nested Include loads its relations too.
//
//	{"parent": true, "notes": {"owner": true}}
type Include map[string]Include

func (inc *Include) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*inc = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("Invalid include %s", data)
	}

	res := Include{}
	for name, value := range raw {
		value = bytes.TrimSpace(value)
		switch {
		case bytes.Equal(value, []byte("true")):
			res[name] = nil
		case bytes.Equal(value, []byte("false")), bytes.Equal(value, []byte("null")):
		default:
			var nested Include
			if err := json.Unmarshal(value, &nested); err != nil {
				return err
			}
			if nested == nil {
				nested = Include{}
			}
			res[name] = nested
		}
	}
	*inc = res
	return nil
}
