package hooks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"intentchain/native/intents"
)

func TestEnqueueDrainFIFO(t *testing.T) {
	q := NewMemoryQueue(0)
	first := intents.NewIntentID(100, 1)
	second := intents.NewIntentID(100, 2)

	require.NoError(t, q.Enqueue(first, []byte("a"), 10))
	require.NoError(t, q.Enqueue(second, []byte("b"), 20))
	require.Equal(t, 2, q.Len())

	drained := q.Drain(1)
	require.Len(t, drained, 1)
	require.Equal(t, first, drained[0].Origin)
	require.Equal(t, []byte("a"), drained[0].Payload)
	require.Equal(t, uint64(10), drained[0].MaxWeight)

	drained = q.Drain(0)
	require.Len(t, drained, 1)
	require.Equal(t, second, drained[0].Origin)
	require.Equal(t, 0, q.Len())
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	q := NewMemoryQueue(0)
	require.ErrorIs(t, q.Enqueue(intents.NewIntentID(1, 1), nil, 0), ErrEmptyPayload)
}

func TestBoundedQueueFillsUp(t *testing.T) {
	q := NewMemoryQueue(2)
	id := intents.NewIntentID(1, 1)
	require.NoError(t, q.Enqueue(id, []byte("a"), 0))
	require.NoError(t, q.Enqueue(id, []byte("b"), 0))
	require.ErrorIs(t, q.Enqueue(id, []byte("c"), 0), ErrQueueFull)

	q.Drain(1)
	require.NoError(t, q.Enqueue(id, []byte("c"), 0))
}
