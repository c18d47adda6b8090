package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

// CallState is the lifecycle of one gateway call. Succeeded, Failed and
// TimedOut are terminal; a call is never retried.
type CallState int

const (
	CallCreated CallState = iota
	CallSent
	CallSucceeded
	CallFailed
	CallTimedOut
)

func (s CallState) String() string {
	switch s {
	case CallCreated:
		return "created"
	case CallSent:
		return "sent"
	case CallSucceeded:
		return "succeeded"
	case CallFailed:
		return "failed"
	case CallTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallSucceeded || s == CallFailed || s == CallTimedOut
}

// ErrInvalidTransition is returned when a call is moved out of order.
var ErrInvalidTransition = errors.New("gateway: invalid call state transition")

// Call tracks one outbound RPC issued on behalf of an HTTP request.
type Call struct {
	Destination patterns.Destination
	Pattern     patterns.Pattern
	Timeout     time.Duration

	state   CallState
	reason  string
	created time.Time
	sent    time.Time
	ended   time.Time
}

// NewCall returns a call in the Created state.
func NewCall(dest patterns.Destination, pattern patterns.Pattern, timeout time.Duration) *Call {
	return &Call{
		Destination: dest,
		Pattern:     pattern,
		Timeout:     timeout,
		state:       CallCreated,
		created:     time.Now(),
	}
}

// State returns the current state.
func (c *Call) State() CallState { return c.state }

// Reason returns the error kind of a failed call.
func (c *Call) Reason() string { return c.reason }

// Duration is the time between sending and resolution, or zero while the
// call is unresolved.
func (c *Call) Duration() time.Duration {
	if c.ended.IsZero() || c.sent.IsZero() {
		return 0
	}
	return c.ended.Sub(c.sent)
}

// MarkSent moves the call from Created to Sent.
func (c *Call) MarkSent() error {
	if c.state != CallCreated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, CallSent)
	}
	c.state = CallSent
	c.sent = time.Now()
	return nil
}

// Resolve moves a sent call into its terminal state according to err.
func (c *Call) Resolve(err error) error {
	if c.state != CallSent {
		return fmt.Errorf("%w: %s resolved", ErrInvalidTransition, c.state)
	}
	c.ended = time.Now()

	switch {
	case err == nil:
		c.state = CallSucceeded
	case errors.Is(err, rpcerrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.state = CallTimedOut
		c.reason = string(rpcerrors.KindTimeout)
	default:
		c.state = CallFailed
		c.reason = string(rpcerrors.KindOf(err))
	}
	return nil
}
