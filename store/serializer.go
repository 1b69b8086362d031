package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONSerializer implements Serializer for on-disk documents.
// Output is indented with a trailing newline so documents stay reviewable by
// hand; input must be exactly one JSON value.
type JSONSerializer[T any] struct{}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer[T any]() *JSONSerializer[T] {
	return &JSONSerializer[T]{}
}

// Marshal renders obj as indented JSON.
func (s *JSONSerializer[T]) Marshal(obj T) ([]byte, error) {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a single JSON value. Empty input and trailing data after
// the value are errors, so a truncated or concatenated write reads as corrupt.
func (s *JSONSerializer[T]) Unmarshal(data []byte) (T, error) {
	var obj T
	if len(bytes.TrimSpace(data)) == 0 {
		return obj, fmt.Errorf("json unmarshal failed: empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&obj); err != nil {
		return obj, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if dec.More() {
		return obj, fmt.Errorf("json unmarshal failed: trailing data after document")
	}
	return obj, nil
}
