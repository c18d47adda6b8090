package runtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTable_InsertTake(t *testing.T) {
	table := newPendingTable()
	call := newPendingCall("lead", "lead.get")

	require.NoError(t, table.insert("a", call))
	assert.ErrorIs(t, table.insert("a", newPendingCall("lead", "lead.get")), errCorrelationCollision)
	assert.Equal(t, 1, table.len())

	got, ok := table.take("a")
	require.True(t, ok)
	assert.Same(t, call, got)

	_, ok = table.take("a")
	assert.False(t, ok, "a call can be taken only once")
	assert.Zero(t, table.len())
}

func TestPendingTable_Drain(t *testing.T) {
	table := newPendingTable()
	calls := make([]*pendingCall, 3)
	for i := range calls {
		calls[i] = newPendingCall("deal", "deal.get")
		require.NoError(t, table.insert(fmt.Sprintf("id-%d", i), calls[i]))
	}

	lost := errors.New("connection lost")
	assert.Equal(t, 3, table.drain(lost))
	assert.Zero(t, table.len())

	for _, call := range calls {
		res := <-call.result
		assert.ErrorIs(t, res.err, lost)
	}

	require.NoError(t, table.insert("after-drain", newPendingCall("deal", "deal.get")))
}

func TestPendingTable_CloseRejectsInserts(t *testing.T) {
	table := newPendingTable()
	call := newPendingCall("task", "task.get")
	require.NoError(t, table.insert("x", call))

	closed := errors.New("closed")
	assert.Equal(t, 1, table.close(closed))
	assert.ErrorIs(t, (<-call.result).err, closed)
	assert.ErrorIs(t, table.insert("y", newPendingCall("task", "task.get")), closed)
}

func TestPendingTable_ConcurrentTakeResolvesOnce(t *testing.T) {
	table := newPendingTable()
	require.NoError(t, table.insert("race", newPendingCall("lead", "lead.get")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := table.take("race"); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
