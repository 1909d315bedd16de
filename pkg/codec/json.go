// Package codec provides serializer implementations for different wire formats.
package codec

import "encoding/json"

// JSONSerializer marshals payloads as JSON. It is the framework default.
type JSONSerializer struct{}

// NewJSON creates a JSON serializer.
func NewJSON() *JSONSerializer {
	return &JSONSerializer{}
}

// ContentType returns the JSON content type.
func (s *JSONSerializer) ContentType() string {
	return "application/json; charset=utf-8"
}

// Marshal encodes the payload as JSON.
func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v. Used by the lifecycle to decode request
// bodies before schema validation.
func (s *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
