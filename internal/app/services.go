package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/api"
	"github.com/dokzlo13/bulbd/internal/config"
	"github.com/dokzlo13/bulbd/internal/control"
	"github.com/dokzlo13/bulbd/internal/db"
	"github.com/dokzlo13/bulbd/internal/discovery"
	"github.com/dokzlo13/bulbd/internal/hal"
	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/persist"
	"github.com/dokzlo13/bulbd/internal/render"
	"github.com/dokzlo13/bulbd/internal/scheduler"
	"github.com/dokzlo13/bulbd/internal/store"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config
	id  identity

	// Core infrastructure
	DB      *db.DB
	Backend persist.Backend
	Saver   *persist.Saver

	// Device state and output
	Store  *store.Store
	Output hal.Output
	Render *render.Loop

	// Network side
	Control   *control.Service
	Responder *discovery.Responder
	Scheduler *scheduler.Scheduler[netEvent]
	API       *api.Server
	Health    *HealthService

	listener   *discovery.Listener
	advertiser *discovery.Advertiser
	wg         sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	id, err := resolveIdentity(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	s.id = id
	log.Info().
		Str("bridge_id", id.desc.BridgeID).
		Str("ip", id.ip).
		Str("mac", id.desc.MAC).
		Msg("Bridge identity resolved")

	// Initialize device state
	infos, err := cfg.LightInfos()
	if err != nil {
		return nil, err
	}
	s.Store, err = store.New(infos, cfg.Scheduler.SpinAttempts)
	if err != nil {
		return nil, err
	}

	// Initialize persistence and restore the last saved state
	if err := s.openPersistence(); err != nil {
		s.Close()
		return nil, err
	}

	// Initialize hardware output and the render task
	s.Output, err = openOutput(cfg.Output)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Render, err = render.New(s.Store, s.Output)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize control service
	s.Control = control.New(s.Store, control.Options{
		Descriptor:        id.desc,
		IP:                id.ip,
		Netmask:           cfg.Bridge.Netmask,
		Gateway:           cfg.Bridge.Gateway,
		Tick:              cfg.Scheduler.Tick.Duration(),
		DefaultTransition: cfg.Control.GetDefaultTransition(),
		LinkButton:        cfg.Control.LinkButton,
		RequireAuth:       cfg.Control.RequireAuth,
		OnChange:          s.notifySaver,
	})

	// Initialize discovery responder; its socket opens on Start
	if cfg.Discovery.SSDP.GetEnabled() {
		s.Responder = discovery.NewResponder(
			id.desc,
			discovery.Location(id.ip, cfg.HTTP.Port),
			cfg.Discovery.SSDP.Server,
			senderFunc(s.sendSSDP),
		)
	}

	// Initialize scheduler with both tasks
	task := &networkTask{control: s.Control, responder: s.Responder}
	s.Scheduler = scheduler.New(cfg.Scheduler.Tick.Duration(), cfg.Scheduler.QueueSize, s.Render, task.handle)

	// Initialize HTTP transport
	doc, err := discovery.NewDescription(id.desc, id.ip, cfg.HTTP.Port).MarshalDocument()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("render description: %w", err)
	}
	s.API = api.NewServer(cfg.HTTP.Host, cfg.HTTP.Port, func(c *api.Call) bool {
		return s.Scheduler.Submit(netEvent{call: c})
	}, doc, cfg.HTTP.ReplyTimeout.Duration())

	// Initialize health service
	s.Health = NewHealthService(cfg, s)

	return s, nil
}

func (s *Services) openPersistence() error {
	switch s.cfg.Persistence.Driver {
	case "none":
		return nil
	case "memory":
		s.Backend = &persist.Memory{}
	default:
		database, err := db.Open(s.cfg.Persistence.Path)
		if err != nil {
			return err
		}
		s.DB = database
		s.Backend = persist.NewSQLite(database.DB, persist.DefaultKey)
	}

	n, err := persist.Restore(s.Backend, s.Store)
	if err != nil {
		// Boot continues from the configured defaults.
		log.Warn().Err(err).Msg("Failed to restore device state, using defaults")
	} else if n > 0 {
		log.Info().Int("lights", n).Msg("Restored device state")
	}

	s.Saver = persist.NewSaver(s.Store, s.Backend, s.cfg.Persistence.MinInterval.Duration())
	if entries, err := s.Store.Snapshot(); err == nil {
		if blob, err := persist.Encode(entries); err == nil {
			s.Saver.Prime(blob)
		}
	}
	return nil
}

func (s *Services) notifySaver() {
	if s.Saver != nil {
		s.Saver.Notify()
	}
}

type senderFunc func(b []byte, to net.Addr) error

func (f senderFunc) Send(b []byte, to net.Addr) error { return f(b, to) }

func (s *Services) sendSSDP(b []byte, to net.Addr) error {
	if s.listener == nil {
		return errors.New("ssdp socket closed")
	}
	return s.listener.Send(b, to)
}

func (s *Services) goRun(ctx context.Context, name string, run func(context.Context) error, onFatalError func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil {
			onFatalError(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a service stops with an error.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Open discovery sockets before anything can probe us
	if s.Responder != nil {
		l, err := discovery.Listen(discovery.ListenerConfig{
			Addr:      s.cfg.Discovery.SSDP.Addr,
			Interface: s.cfg.Bridge.Interface,
			TTL:       s.cfg.Discovery.SSDP.TTL,
			Loopback:  s.cfg.Discovery.SSDP.Loopback,
		})
		if err != nil {
			// The control API stays reachable for clients that know the address.
			log.Warn().Err(err).Msg("SSDP discovery unavailable")
		} else {
			s.listener = l
		}
	}
	if s.cfg.Discovery.MDNS.GetEnabled() {
		adv, err := discovery.Advertise(s.id.desc, s.advertiserConfig())
		if err != nil {
			// Apps can still find us over SSDP.
			log.Warn().Err(err).Msg("mDNS advertisement unavailable")
		} else {
			s.advertiser = adv
		}
	}

	// Start all background services
	s.goRun(ctx, "scheduler", s.Scheduler.Run, onFatalError)
	if s.Saver != nil {
		s.goRun(ctx, "saver", s.Saver.Run, onFatalError)
	}
	if s.listener != nil {
		s.goRun(ctx, "ssdp", func(ctx context.Context) error {
			return s.listener.Run(ctx, func(p discovery.Probe) bool {
				return s.Scheduler.Submit(netEvent{probe: &p})
			})
		}, onFatalError)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listener.Advertise(ctx, s.Responder, s.cfg.Discovery.SSDP.NotifyInterval.Duration())
		}()
	}
	s.goRun(ctx, "api", func(ctx context.Context) error {
		return s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration())
	}, onFatalError)
	s.Health.Start(ctx)

	return nil
}

func (s *Services) advertiserConfig() discovery.AdvertiserConfig {
	cfg := discovery.AdvertiserConfig{
		Instance: s.cfg.Discovery.MDNS.Instance,
		Host:     s.cfg.Discovery.MDNS.Host,
		Port:     s.cfg.HTTP.Port,
	}
	if ip := net.ParseIP(s.id.ip); ip != nil {
		cfg.IPs = []net.IP{ip}
	}
	if s.id.ifi != nil {
		cfg.Interface = s.id.ifi.Name
	}
	return cfg
}

// ClearState resets every light to its boot default and saves that state,
// discarding whatever was restored. It must be called before Start.
func (s *Services) ClearState() error {
	infos := s.Store.Infos()
	entries := make([]store.Entry, 0, len(infos))
	for _, info := range infos {
		st := light.Default()
		st.ColorMode = info.Layout.NativeMode()
		entries = append(entries, store.Entry{ID: info.ID, State: st})
	}
	if _, err := s.Store.Restore(entries); err != nil {
		return err
	}
	if s.Saver == nil {
		return nil
	}
	return s.Saver.Flush()
}

// Stop waits for background services to finish, then releases resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.advertiser != nil {
		if err := s.advertiser.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop mDNS advertisement")
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close SSDP socket")
		}
	}
	if s.Output != nil {
		if err := hal.Close(s.Output); err != nil {
			log.Warn().Err(err).Msg("Failed to close output")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
