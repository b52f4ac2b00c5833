package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// KVValue is the value object of a KV item as the platform stores it.
// At most one of String and Bytes is set.
//
// Example of what the platform returns:
//
//	{"string": "{\"theme\":\"dark\"}", "expiresAt": "2024-01-01T12:00:00Z"}
type KVValue struct {
	// String holds the JSON text of a JSON value
	String *string `json:"string,omitempty"`
	// Bytes holds a raw byte value
	Bytes *string `json:"bytes,omitempty"`
	// ExpiresAt is when the item expires, if it does
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// KVItem is one element of GET /deployments/{id}/kv/namespaces/{ns}/items.
type KVItem struct {
	Key   string  `json:"key"`
	Value KVValue `json:"value"`
}

// KVPutRequest is the body of PUT .../items/{key}.
//
// Example:
//
//	{"string": "{\"theme\":\"dark\"}"}
type KVPutRequest struct {
	String *string `json:"string,omitempty"`
	Bytes  *string `json:"bytes,omitempty"`
}

// NamespaceSummary is one element of GET /deployments/{id}/kv/namespaces.
type NamespaceSummary struct {
	Namespace string `json:"namespace"`
	Count     int    `json:"count"`
}

// ClearResponse is returned by DELETE /deployments/{id}/kv/namespaces/{ns}.
type ClearResponse struct {
	KeysDeleted int `json:"keys_deleted"`
}

// encodeJSONValue serializes a Go value into the text stored in KVValue.String.
// json.RawMessage is passed through after validation.
func encodeJSONValue(value interface{}) (string, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return "", fmt.Errorf("value is not valid JSON")
		}
		return string(raw), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}
	return string(data), nil
}

// jsonEqual reports whether two JSON documents are deep-equal after decoding,
// so that key order and whitespace do not matter
func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return deepEqualJSON(va, vb)
}

func deepEqualJSON(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !deepEqualJSON(v, w) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// decodeFrame extracts the logical message from a console socket frame.
// A frame is a JSON array and the first element is the message; the rest is
// ignored. When that element is a JSON string that itself holds a JSON object
// or array, the inner document is returned instead.
func decodeFrame(data []byte) (json.RawMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, newProtocolError("frame", "frame is not a JSON array", string(data))
	}
	if len(frame) == 0 {
		return nil, newProtocolError("frame[0]", "frame is an empty array", string(data))
	}

	payload := bytes.TrimSpace(frame[0])
	if len(payload) > 0 && payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err == nil {
			doc := bytes.TrimSpace([]byte(inner))
			if len(doc) > 0 && (doc[0] == '{' || doc[0] == '[') && json.Valid(doc) {
				return json.RawMessage(doc), nil
			}
		}
	}
	return json.RawMessage(payload), nil
}
