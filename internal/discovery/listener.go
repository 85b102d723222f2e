package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

const maxDatagram = 2048

// ListenerConfig configures the SSDP socket.
type ListenerConfig struct {
	// Addr is the local UDP address, normally ":1900".
	Addr string
	// Interface names the NIC to join the group on; empty uses the system
	// default.
	Interface string
	TTL       int
	Loopback  bool
}

// Listener owns the SSDP multicast socket. It hands M-SEARCH datagrams to a
// submit function, typically a scheduler inbox, and sends replies for the
// Responder.
type Listener struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface

	received, filtered, rejected atomic.Uint64
}

// Listen opens the socket and joins the SSDP group.
func Listen(cfg ListenerConfig) (*Listener, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":1900"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2
	}
	group, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve ssdp group: %w", err)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("ssdp interface %q: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenPacket("udp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen ssdp: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join ssdp group: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			log.Warn().Err(err).Str("interface", ifi.Name).Msg("Failed to set SSDP multicast interface")
		}
	}
	if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
		log.Warn().Err(err).Msg("Failed to set SSDP multicast TTL")
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		log.Warn().Err(err).Msg("Failed to set SSDP multicast loopback")
	}

	log.Info().
		Str("addr", conn.LocalAddr().String()).
		Str("group", MulticastAddr).
		Str("interface", cfg.Interface).
		Msg("SSDP listener joined group")

	return &Listener{conn: conn, pc: pc, group: group, ifi: ifi}, nil
}

// LocalAddr returns the bound socket address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Send writes a unicast reply.
func (l *Listener) Send(b []byte, to net.Addr) error {
	_, err := l.pc.WriteTo(b, nil, to)
	return err
}

// Announce sends msgs to the multicast group.
func (l *Listener) Announce(msgs [][]byte) error {
	var errs []error
	for _, m := range msgs {
		if _, err := l.pc.WriteTo(m, nil, l.group); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run reads datagrams until ctx is cancelled. Only M-SEARCH requests are
// passed to submit; a false return from submit counts as rejected.
func (l *Listener) Run(ctx context.Context, submit func(Probe) bool) error {
	go func() {
		<-ctx.Done()
		l.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read ssdp: %w", err)
		}
		l.received.Add(1)
		if !IsSearch(buf[:n]) {
			l.filtered.Add(1)
			continue
		}
		if !submit(Probe{Payload: bytes.Clone(buf[:n]), From: src}) {
			l.rejected.Add(1)
		}
	}
}

// Advertise sends the responder's alive announcements every interval until
// ctx is cancelled.
func (l *Listener) Advertise(ctx context.Context, r *Responder, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := l.Announce(r.Notify()); err != nil {
			log.Warn().Err(err).Msg("Failed to send SSDP announcement")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close leaves the group and closes the socket.
func (l *Listener) Close() error {
	if err := l.pc.LeaveGroup(l.ifi, l.group); err != nil {
		log.Debug().Err(err).Msg("Failed to leave SSDP group")
	}
	return l.conn.Close()
}

// ListenerStats counts socket traffic.
type ListenerStats struct {
	Received uint64 `json:"received"`
	Filtered uint64 `json:"filtered"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns a copy of the counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Received: l.received.Load(),
		Filtered: l.filtered.Load(),
		Rejected: l.rejected.Load(),
	}
}

// IsSearch is a cheap check for an M-SEARCH request line, used to keep
// NOTIFY chatter out of the scheduler.
func IsSearch(b []byte) bool {
	return bytes.HasPrefix(b, []byte("M-SEARCH "))
}
