package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/queue"
)

func event(deploymentID, payload string) *queue.ConsoleEvent {
	return queue.NewConsoleEvent(deploymentID, json.RawMessage(payload), time.Now())
}

func TestBatcherReleasesFullBatches(t *testing.T) {
	b := NewBatcher(2)

	assert.Nil(t, b.Add(event("a", `1`)))
	assert.Nil(t, b.Add(event("b", `1`)))
	assert.Equal(t, 2, b.Pending())

	batch := b.Add(event("a", `2`))
	require.NotNil(t, batch)
	assert.Equal(t, "a", batch.DeploymentID)
	assert.Equal(t, 2, batch.Size())
	assert.JSONEq(t, `2`, string(batch.Events[1].Payload))
	assert.Equal(t, 1, b.Pending())
}

func TestBatcherDrain(t *testing.T) {
	b := NewBatcher(10)
	b.Add(event("a", `1`))
	b.Add(event("b", `1`))
	b.Add(event("b", `2`))

	batches := b.Drain()
	require.Len(t, batches, 2)

	sizes := map[string]int{}
	for _, batch := range batches {
		sizes[batch.DeploymentID] = batch.Size()
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, sizes)
	assert.Zero(t, b.Pending())
	assert.Empty(t, b.Drain())
}

func TestBatcherMinimumSize(t *testing.T) {
	b := NewBatcher(0)
	assert.NotNil(t, b.Add(event("a", `1`)))
}
