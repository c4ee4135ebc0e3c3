package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalTreeRecord serializes a TreeRecord to JSON bytes.
func MarshalTreeRecord(r *TreeRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil TreeRecord")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TreeRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalTreeRecord deserializes a TreeRecord from JSON bytes.
// Numbers inside dump values are kept as json.Number.
func UnmarshalTreeRecord(data []byte) (*TreeRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var r TreeRecord
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to TreeRecord: %w", err)
	}

	return &r, nil
}

// CopyTreeRecord returns a deep copy of a record via its JSON form.
func CopyTreeRecord(r *TreeRecord) (*TreeRecord, error) {
	data, err := MarshalTreeRecord(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalTreeRecord(data)
}
