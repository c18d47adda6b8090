package runtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var errCorrelationCollision = errors.New("crmbus: correlation id already pending")

// callResult is the single outcome delivered to a waiting caller.
type callResult struct {
	data json.RawMessage
	err  error
}

// pendingCall is an in-flight request. result has room for exactly one value
// so resolving never blocks, whether or not the caller is still waiting.
type pendingCall struct {
	result      chan callResult
	started     time.Time
	destination string
	pattern     string
}

func newPendingCall(destination, pattern string) *pendingCall {
	return &pendingCall{
		result:      make(chan callResult, 1),
		started:     time.Now(),
		destination: destination,
		pattern:     pattern,
	}
}

// pendingTable maps correlation ids to in-flight calls. Removing an entry is
// the only way to resolve it, so every call resolves at most once no matter
// how a reply, a timeout and a drain race.
type pendingTable struct {
	mu       sync.Mutex
	calls    map[string]*pendingCall
	closed   bool
	closeErr error
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

func (t *pendingTable) insert(id string, call *pendingCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.closeErr
	}
	if _, exists := t.calls[id]; exists {
		return errCorrelationCollision
	}
	t.calls[id] = call
	return nil
}

// take removes and returns the call for id. The second result is false when
// the call was already resolved.
func (t *pendingTable) take(id string) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return call, ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// drain fails every pending call with err and returns how many were failed.
func (t *pendingTable) drain(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.result <- callResult{err: err}
	}
	return len(calls)
}

// close drains the table and rejects every later insert with err.
func (t *pendingTable) close(err error) int {
	t.mu.Lock()
	t.closed = true
	t.closeErr = err
	t.mu.Unlock()
	return t.drain(err)
}
