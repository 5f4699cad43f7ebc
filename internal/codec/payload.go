package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when decoded text is not a JSON document.
var ErrMalformedPayload = errors.New("codec: malformed payload")

// Null is the encoded form of the JSON null value. Ack-only frames carry it
// so that every frame has a non-empty payload.
var Null = Encode("null")

// Marshal serializes an application value as JSON and compacts the result.
// A json.RawMessage is taken as-is; nil becomes null.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}
	return Encode(string(data)), nil
}

// Unmarshal expands a compact payload back into its JSON document.
func Unmarshal(b []byte) (json.RawMessage, error) {
	text, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPayload, truncate(text, 32))
	}
	return json.RawMessage(text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
