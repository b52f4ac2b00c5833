package sdk

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    string
		wantErr bool
	}{
		{name: "object payload", frame: `[{"method":"log","data":["hi"]}]`, want: `{"method":"log","data":["hi"]}`},
		{name: "extra elements ignored", frame: `[1, 2, 3]`, want: `1`},
		{name: "string holding object", frame: `["{\"a\":1}"]`, want: `{"a":1}`},
		{name: "string holding array", frame: `["[1,2]"]`, want: `[1,2]`},
		{name: "string holding padded object", frame: `["  {\"a\":1} "]`, want: `{"a":1}`},
		{name: "plain string", frame: `["hello"]`, want: `"hello"`},
		{name: "string holding number stays a string", frame: `["42"]`, want: `"42"`},
		{name: "string holding broken json", frame: `["{oops"]`, want: `"{oops"`},
		{name: "null payload", frame: `[null]`, want: `null`},
		{name: "not an array", frame: `{"a":1}`, wantErr: true},
		{name: "empty array", frame: `[]`, wantErr: true},
		{name: "not json", frame: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				var perr *ProtocolError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, json.RawMessage(mustJSON(t, tt.frame)), perr.Response)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestJSONEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same scalar", `1`, `1.0`, true},
		{"key order ignored", `{"a":1,"b":[1,2]}`, `{ "b": [1, 2], "a": 1 }`, true},
		{"nested difference", `{"a":{"b":1}}`, `{"a":{"b":2}}`, false},
		{"extra key", `{"a":1}`, `{"a":1,"b":null}`, false},
		{"array order matters", `[1,2]`, `[2,1]`, false},
		{"string vs number", `"1"`, `1`, false},
		{"invalid left", `{`, `{}`, false},
		{"invalid right", `{}`, `}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jsonEqual([]byte(tt.a), []byte(tt.b)))
		})
	}
}

func TestEncodeJSONValue(t *testing.T) {
	got, err := encodeJSONValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, got)

	got, err = encodeJSONValue(json.RawMessage(`{"raw": true}`))
	require.NoError(t, err)
	assert.Equal(t, `{"raw": true}`, got)

	_, err = encodeJSONValue(json.RawMessage(`{broken`))
	assert.Error(t, err)

	_, err = encodeJSONValue(make(chan int))
	assert.Error(t, err)
}

func TestKVValueWireShape(t *testing.T) {
	var items []KVItem
	body := `[{"key":"a","value":{"string":"1","expiresAt":"2024-01-01T12:00:00Z"}},{"key":"b","value":{"bytes":"raw"}}]`
	require.NoError(t, json.Unmarshal([]byte(body), &items))

	require.Len(t, items, 2)
	require.NotNil(t, items[0].Value.String)
	assert.Equal(t, "1", *items[0].Value.String)
	require.NotNil(t, items[0].Value.ExpiresAt)
	assert.Equal(t, 2024, items[0].Value.ExpiresAt.Year())
	assert.Nil(t, items[1].Value.String)
	require.NotNil(t, items[1].Value.Bytes)
	assert.Equal(t, "raw", *items[1].Value.Bytes)
}

func mustJSON(t *testing.T, s string) []byte {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}
