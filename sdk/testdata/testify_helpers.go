package testdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite provides common test setup and utilities
type TestSuite struct {
	T            *testing.T
	Platform     *Platform
	BaseURL      string
	DeploymentID string
	Context      context.Context
	CancelFunc   context.CancelFunc
}

// NewTestSuite starts a fake platform with one deployment and registers cleanup
func NewTestSuite(t *testing.T) *TestSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	platform := NewPlatform()
	platform.AddDeployment(TestDeploymentID)

	ts := &TestSuite{
		T:            t,
		Platform:     platform,
		BaseURL:      platform.URL,
		DeploymentID: TestDeploymentID,
		Context:      ctx,
		CancelFunc:   cancel,
	}
	t.Cleanup(ts.Cleanup)
	return ts
}

// Cleanup cleans up test resources
func (ts *TestSuite) Cleanup() {
	if ts.CancelFunc != nil {
		ts.CancelFunc()
	}
	if ts.Platform != nil {
		ts.Platform.Close()
	}
}

// AssertEventuallyConsistent checks that a condition becomes true within timeout
func AssertEventuallyConsistent(t *testing.T, condition func() bool, timeout time.Duration, tick time.Duration, msgAndArgs ...interface{}) {
	assert.Eventually(t, condition, timeout, tick, msgAndArgs...)
}

// RequireEventuallyConsistent requires that a condition becomes true within timeout
func RequireEventuallyConsistent(t *testing.T, condition func() bool, timeout time.Duration, tick time.Duration, msgAndArgs ...interface{}) {
	require.Eventually(t, condition, timeout, tick, msgAndArgs...)
}

// Recorder collects labelled values from concurrent callbacks in arrival order.
// Stream tests use it to check the sequence of events.
type Recorder struct {
	mu      sync.Mutex
	entries []RecordedEntry
}

// RecordedEntry is one value captured by a Recorder
type RecordedEntry struct {
	Label string
	Value interface{}
	Time  time.Time
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Add records value under label
func (r *Recorder) Add(label string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, RecordedEntry{Label: label, Value: value, Time: time.Now()})
}

// Entries returns a copy of everything recorded so far
func (r *Recorder) Entries() []RecordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEntry(nil), r.entries...)
}

// Labels returns the recorded labels in order
func (r *Recorder) Labels() []string {
	entries := r.Entries()
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.Label
	}
	return labels
}

// Count returns how many entries carry label
func (r *Recorder) Count(label string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Label == label {
			n++
		}
	}
	return n
}

// Values returns the values recorded under label
func (r *Recorder) Values(label string) []interface{} {
	var values []interface{}
	for _, e := range r.Entries() {
		if e.Label == label {
			values = append(values, e.Value)
		}
	}
	return values
}

// WaitForCount requires that label is recorded at least n times within timeout
func (r *Recorder) WaitForCount(t *testing.T, label string, n int, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Count(label) >= n
	}, timeout, 5*time.Millisecond, "expected %d %q entries, got %v", n, label, r.Labels())
}
