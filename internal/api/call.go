package api

import (
	"sync/atomic"

	"github.com/dokzlo13/bulbd/internal/control"
)

const (
	callQueued int32 = iota
	callClaimed
	callAbandoned
)

// Call is a routed request waiting for the network task. The transport
// blocks on it until Reply is called or its deadline passes.
type Call struct {
	Request control.Request
	reply   chan control.Response
	state   atomic.Int32
}

// NewCall wraps req.
func NewCall(req control.Request) *Call {
	return &Call{Request: req, reply: make(chan control.Response, 1)}
}

// Claim marks the call as being handled. It fails once the transport has
// abandoned the call; the request must then not be applied.
func (c *Call) Claim() bool {
	return c.state.CompareAndSwap(callQueued, callClaimed)
}

// Abandon gives up on a call that is still queued. It fails when the
// network task already claimed it, in which case a reply is on its way.
func (c *Call) Abandon() bool {
	return c.state.CompareAndSwap(callQueued, callAbandoned)
}

// Reply delivers the response. Only the first reply is kept; later ones and
// replies to abandoned calls are dropped without blocking.
func (c *Call) Reply(resp control.Response) {
	select {
	case c.reply <- resp:
	default:
	}
}

// Done yields the response once Reply is called.
func (c *Call) Done() <-chan control.Response {
	return c.reply
}
