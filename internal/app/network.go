package app

import (
	"github.com/dokzlo13/bulbd/internal/api"
	"github.com/dokzlo13/bulbd/internal/control"
	"github.com/dokzlo13/bulbd/internal/discovery"
)

// netEvent is one wake-up of the network task: either a control call from
// the HTTP transport or an SSDP probe.
type netEvent struct {
	call  *api.Call
	probe *discovery.Probe
}

// networkTask runs control requests and discovery probes to completion on
// the scheduler goroutine.
type networkTask struct {
	control   *control.Service
	responder *discovery.Responder
}

func (n *networkTask) handle(ev netEvent) {
	switch {
	case ev.call != nil:
		// The transport already answered an abandoned call with 503.
		if !ev.call.Claim() {
			return
		}
		ev.call.Reply(n.control.Handle(ev.call.Request))
	case ev.probe != nil && n.responder != nil:
		n.responder.Handle(*ev.probe)
	}
}
