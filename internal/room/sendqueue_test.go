package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendQueuePushAndDrain(t *testing.T) {
	q := newSendQueue(4)
	require.True(t, q.push(false, "a"))
	require.True(t, q.push(false, "b"))

	items := q.drain()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Msg)
	assert.Equal(t, "b", items[1].Msg)
}

func TestSendQueueDropsOldestNonCriticalOnOverflow(t *testing.T) {
	q := newSendQueue(2)
	require.True(t, q.push(false, "old"))
	require.True(t, q.push(false, "newer"))
	require.True(t, q.push(false, "newest")) // must evict "old"

	items := q.drain()
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].Msg)
	assert.Equal(t, "newest", items[1].Msg)
}

func TestSendQueueForceDisconnectWhenAllCritical(t *testing.T) {
	q := newSendQueue(2)
	require.True(t, q.push(true, "c1"))
	require.True(t, q.push(true, "c2"))

	ok := q.push(true, "c3")
	assert.False(t, ok, "a queue full of critical messages must signal force-disconnect")
}

func TestSendQueueCriticalSurvivesEvictionOfOlderDroppable(t *testing.T) {
	q := newSendQueue(2)
	require.True(t, q.push(false, "droppable"))
	require.True(t, q.push(true, "critical"))

	ok := q.push(false, "new-droppable")
	require.True(t, ok)

	items := q.drain()
	require.Len(t, items, 2)
	assert.Equal(t, "critical", items[0].Msg)
	assert.Equal(t, "new-droppable", items[1].Msg)
}

func TestSendQueueClosedPushIsNoop(t *testing.T) {
	q := newSendQueue(2)
	q.close()
	ok := q.push(false, "x")
	assert.True(t, ok)
	assert.Empty(t, q.drain())
}
