// Package discovery makes the daemon findable the way bridges of the
// lighting ecosystem are: an SSDP responder answering M-SEARCH probes, the
// UPnP description document those answers point at, and an mDNS
// advertisement of the _hue._tcp service.
package discovery

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/light"
)

// SSDP group and search targets.
const (
	MulticastAddr = "239.255.255.250:1900"

	TargetAll        = "ssdp:all"
	TargetRootDevice = "upnp:rootdevice"
	TargetBasic      = "urn:schemas-upnp-org:device:basic:1"

	MaxAge       = 100
	DefaultAgent = "Linux/3.14.0 UPnP/1.0 IpBridge/1.26.0"
)

// udnNamespace keeps generated device UDNs stable per bridge id.
var udnNamespace = uuid.MustParse("2f402f80-da50-11e1-9b23-000000000000")

// State is the responder's position in its two-state machine.
type State int32

const (
	StateListening State = iota
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateResponding:
		return "responding"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Probe is one datagram received on the SSDP socket.
type Probe struct {
	Payload []byte
	From    net.Addr
}

// Sender delivers a unicast reply.
type Sender interface {
	Send(b []byte, to net.Addr) error
}

// Stats counts responder outcomes.
type Stats struct {
	Probes     uint64 `json:"probes"`
	Answered   uint64 `json:"answered"`
	Ignored    uint64 `json:"ignored"`
	SendErrors uint64 `json:"send_errors"`
}

// Responder answers M-SEARCH probes with the bridge's location and identity.
// Handle is called from one task at a time.
type Responder struct {
	desc     light.Descriptor
	location string
	agent    string
	udn      string
	send     Sender

	state atomic.Int32
	// OnState observes every state change. Optional.
	OnState func(State)

	probes, answered, ignored, sendErrors atomic.Uint64
	log                                   zerolog.Logger
}

// NewResponder creates a responder for desc whose replies point at location,
// the absolute URL of the description document.
func NewResponder(desc light.Descriptor, location, agent string, send Sender) *Responder {
	if agent == "" {
		agent = DefaultAgent
	}
	return &Responder{
		desc:     desc,
		location: location,
		agent:    agent,
		udn:      UDN(desc),
		send:     send,
		log: log.Logger.With().Str("component", "ssdp").Logger().
			Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
	}
}

// UDN is the device's stable UPnP unique device name, without the "uuid:"
// prefix.
func UDN(desc light.Descriptor) string {
	return uuid.NewSHA1(udnNamespace, []byte(strings.ToUpper(desc.BridgeID))).String()
}

// Location returns the description document URL for host:port.
func Location(host string, port int) string {
	return fmt.Sprintf("http://%s/description.xml", net.JoinHostPort(host, fmt.Sprint(port)))
}

// State returns the current state.
func (r *Responder) State() State { return State(r.state.Load()) }

func (r *Responder) enter(s State) {
	r.state.Store(int32(s))
	if r.OnState != nil {
		r.OnState(s)
	}
}

// Handle processes one probe and reports whether it was answered. The
// responder is Listening again when Handle returns.
func (r *Responder) Handle(p Probe) bool {
	r.probes.Add(1)
	targets, ok := r.match(p.Payload)
	if !ok {
		r.ignored.Add(1)
		return false
	}

	r.enter(StateResponding)
	defer r.enter(StateListening)

	sent := false
	for _, st := range targets {
		if err := r.send.Send(r.reply(st), p.From); err != nil {
			r.sendErrors.Add(1)
			r.log.Warn().Err(err).Stringer("to", p.From).Msg("Failed to send SSDP reply")
			continue
		}
		sent = true
	}
	if sent {
		r.answered.Add(1)
		log.Debug().Stringer("to", p.From).Strs("st", targets).Msg("Answered SSDP search")
	}
	return sent
}

// match parses an M-SEARCH and returns the search targets to answer.
func (r *Responder) match(payload []byte) ([]string, bool) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil || req.Method != "M-SEARCH" {
		return nil, false
	}
	if strings.Trim(req.Header.Get("MAN"), `"`) != "ssdp:discover" {
		return nil, false
	}

	st := strings.TrimSpace(req.Header.Get("ST"))
	switch strings.ToLower(st) {
	case TargetAll:
		return []string{TargetRootDevice, "uuid:" + r.udn, TargetBasic}, true
	case TargetRootDevice, TargetBasic, "uuid:" + r.udn:
		return []string{st}, true
	default:
		return nil, false
	}
}

func (r *Responder) usn(st string) string {
	if strings.HasPrefix(st, "uuid:") {
		return st
	}
	return "uuid:" + r.udn + "::" + st
}

func (r *Responder) reply(st string) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", MulticastAddr)
	b.WriteString("EXT:\r\n")
	fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", MaxAge)
	fmt.Fprintf(&b, "LOCATION: %s\r\n", r.location)
	fmt.Fprintf(&b, "SERVER: %s\r\n", r.agent)
	fmt.Fprintf(&b, "hue-bridgeid: %s\r\n", strings.ToUpper(r.desc.BridgeID))
	fmt.Fprintf(&b, "ST: %s\r\n", st)
	fmt.Fprintf(&b, "USN: %s\r\n", r.usn(st))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Notify builds the ssdp:alive announcements sent to the multicast group.
func (r *Responder) Notify() [][]byte {
	nts := []string{TargetRootDevice, "uuid:" + r.udn, TargetBasic}
	out := make([][]byte, 0, len(nts))
	for _, nt := range nts {
		var b bytes.Buffer
		b.WriteString("NOTIFY * HTTP/1.1\r\n")
		fmt.Fprintf(&b, "HOST: %s\r\n", MulticastAddr)
		fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", MaxAge)
		fmt.Fprintf(&b, "LOCATION: %s\r\n", r.location)
		fmt.Fprintf(&b, "SERVER: %s\r\n", r.agent)
		b.WriteString("NTS: ssdp:alive\r\n")
		fmt.Fprintf(&b, "hue-bridgeid: %s\r\n", strings.ToUpper(r.desc.BridgeID))
		fmt.Fprintf(&b, "NT: %s\r\n", nt)
		fmt.Fprintf(&b, "USN: %s\r\n", r.usn(nt))
		b.WriteString("\r\n")
		out = append(out, b.Bytes())
	}
	return out
}

// Stats returns a copy of the counters.
func (r *Responder) Stats() Stats {
	return Stats{
		Probes:     r.probes.Load(),
		Answered:   r.answered.Load(),
		Ignored:    r.ignored.Load(),
		SendErrors: r.sendErrors.Load(),
	}
}
