package testdata

import (
	"encoding/json"
	"time"
)

// TestDeploymentID is the deployment NewTestSuite registers
const TestDeploymentID = "834213"

// TestNamespace is the namespace most KV tests use
const TestNamespace = "settings"

// TestData provides common values for KV round-trip tests
var TestData = struct {
	SimpleString   string
	SimpleInt      int
	SimpleFloat    float64
	SimpleBool     bool
	SimpleTime     time.Time
	ComplexStruct  TestStruct
	StringSlice    []string
	StringMap      map[string]string
	UnicodeString  string
	EmptyString    string
	JSONRawMessage json.RawMessage
}{
	SimpleString:  "test-value",
	SimpleInt:     42,
	SimpleFloat:   3.14159,
	SimpleBool:    true,
	SimpleTime:    time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
	UnicodeString: "Hello 世界 🌍",
	EmptyString:   "",
	ComplexStruct: TestStruct{
		ID:        1,
		Name:      "reminder",
		Active:    true,
		CreatedAt: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		Tags:      []string{"daily", "general"},
	},
	StringSlice:    []string{"a", "b", "c"},
	StringMap:      map[string]string{"theme": "dark", "lang": "en"},
	JSONRawMessage: json.RawMessage(`{"nested": "json", "count": 5}`),
}

// TestStruct is a simple test structure
type TestStruct struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// ConsoleLine is the shape of a console message the platform streams
type ConsoleLine struct {
	Method string        `json:"method"`
	Data   []interface{} `json:"data"`
}
