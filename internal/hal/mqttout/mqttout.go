// Package mqttout publishes channel duties to remote PWM nodes over MQTT.
// Each channel maps to the retained topic <prefix>/<channel>.
package mqttout

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/hal"
	"github.com/dokzlo13/bulbd/internal/light"
)

// ErrNotConnected is returned by Flush while the broker is unreachable. The
// pending duties stay queued and go out after reconnecting.
var ErrNotConnected = errors.New("mqtt: not connected")

// Client is the part of mqtt.Client the output uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config configures the broker connection.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	Channels       int
	Top            uint16
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultWriteTimeout bounds how long one publish may wait on the broker.
const DefaultWriteTimeout = 2 * time.Second

// Output buffers duties. Flush hands the changed channels to a publisher
// goroutine, so a slow broker never stalls the caller.
type Output struct {
	client  Client
	prefix  string
	n       int
	top     uint16
	timeout time.Duration

	mu      sync.Mutex
	duties  [light.MaxChannels]uint16
	dirty   [light.MaxChannels]bool
	pending [light.MaxChannels]bool
	failed  []error

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	disconnect func()
}

var _ hal.Output = (*Output)(nil)

// New wraps an already connected client and starts its publisher.
// Close stops it.
func New(c Client, prefix string, channels int, top uint16) (*Output, error) {
	return newOutput(c, prefix, channels, top, DefaultWriteTimeout)
}

func newOutput(c Client, prefix string, channels int, top uint16, timeout time.Duration) (*Output, error) {
	if channels <= 0 || channels > light.MaxChannels {
		return nil, fmt.Errorf("mqtt output: %d channels, limit %d", channels, light.MaxChannels)
	}
	if top == 0 {
		return nil, errors.New("mqtt output: top must be positive")
	}
	o := &Output{
		client:  c,
		prefix:  prefix,
		n:       channels,
		top:     top,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	o.markAll()
	go o.publishLoop()
	return o, nil
}

// Dial connects to the broker and returns an output bound to it. A will
// message marks the node set offline if the daemon disappears.
func Dial(cfg Config) (*Output, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	status := cfg.Topic + "/online"

	var out *Output
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWriteTimeout(cfg.WriteTimeout)
	opts.SetWill(status, "offline", 0, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT output connected")
		c.Publish(status, 0, true, "online")
		if out != nil {
			out.markAll()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT output connection lost")
	})

	client := mqtt.NewClient(opts)
	out, err := newOutput(client, cfg.Topic, cfg.Channels, cfg.Top, cfg.WriteTimeout)
	if err != nil {
		return nil, err
	}

	tok := client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		out.Close()
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		out.Close()
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	out.disconnect = func() { client.Disconnect(250) }
	return out, nil
}

// Close stops the publisher and disconnects a client created by Dial.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		close(o.quit)
		<-o.done
		if o.disconnect != nil {
			o.disconnect()
		}
	})
	return nil
}

func (o *Output) markAll() {
	o.mu.Lock()
	for ch := 0; ch < o.n; ch++ {
		o.dirty[ch] = true
	}
	o.mu.Unlock()
}

func (o *Output) Channels() int { return o.n }
func (o *Output) Top() uint16   { return o.top }

func (o *Output) Set(ch int, duty uint16) error {
	if ch < 0 || ch >= o.n {
		return fmt.Errorf("%w: %d of %d", hal.ErrChannelRange, ch, o.n)
	}
	if duty > o.top {
		duty = o.top
	}
	o.mu.Lock()
	if o.duties[ch] != duty {
		o.duties[ch] = duty
		o.dirty[ch] = true
	}
	o.mu.Unlock()
	return nil
}

// Topic returns the topic a channel publishes to.
func (o *Output) Topic(ch int) string {
	return o.prefix + "/" + strconv.Itoa(ch)
}

// Flush queues every dirty channel for publishing (QoS 0, retained) and
// returns without touching the network. Publish failures since the last
// Flush are reported here and their channels are queued again.
func (o *Output) Flush() error {
	if !o.client.IsConnected() {
		return ErrNotConnected
	}

	o.mu.Lock()
	queued := false
	for ch := 0; ch < o.n; ch++ {
		if o.dirty[ch] {
			o.pending[ch] = true
			o.dirty[ch] = false
			queued = true
		}
	}
	errs := o.failed
	o.failed = nil
	o.mu.Unlock()

	if queued {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
	return errors.Join(errs...)
}

func (o *Output) publishLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			return
		case <-o.wake:
			o.publishPending()
		}
	}
}

// publishPending sends the latest duty of each queued channel. The lock is
// not held across Publish.
func (o *Output) publishPending() {
	type item struct {
		ch   int
		duty uint16
	}
	var batch [light.MaxChannels]item
	n := 0

	o.mu.Lock()
	for ch := 0; ch < o.n; ch++ {
		if o.pending[ch] {
			batch[n] = item{ch, o.duties[ch]}
			n++
			o.pending[ch] = false
		}
	}
	o.mu.Unlock()

	for _, it := range batch[:n] {
		tok := o.client.Publish(o.Topic(it.ch), 0, true, strconv.FormatUint(uint64(it.duty), 10))
		err := errors.New("timed out")
		if tok.WaitTimeout(o.timeout) {
			err = tok.Error()
		}
		if err != nil {
			o.mu.Lock()
			o.dirty[it.ch] = true
			o.failed = append(o.failed, fmt.Errorf("publish channel %d: %w", it.ch, err))
			o.mu.Unlock()
		}
	}
}
