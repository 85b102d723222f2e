package discovery

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/light"
)

// ServiceType is the DNS-SD service apps browse for.
const ServiceType = "_hue._tcp"

// AdvertiserConfig configures the mDNS advertisement.
type AdvertiserConfig struct {
	Instance  string
	Host      string
	Port      int
	IPs       []net.IP
	Interface string
}

// Advertiser publishes the bridge over mDNS until closed.
type Advertiser struct {
	server *mdns.Server
}

// ServiceZone builds the _hue._tcp zone for desc.
func ServiceZone(desc light.Descriptor, cfg AdvertiserConfig) (*mdns.MDNSService, error) {
	instance := cfg.Instance
	if instance == "" {
		id := strings.ToUpper(desc.BridgeID)
		if len(id) > 6 {
			id = id[len(id)-6:]
		}
		instance = fmt.Sprintf("%s - %s", desc.Name, id)
	}
	host := cfg.Host
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}
	txt := []string{
		"bridgeid=" + strings.ToLower(desc.BridgeID),
		"modelid=" + desc.ModelID,
	}
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", host, cfg.Port, cfg.IPs, txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	return svc, nil
}

// Advertise starts answering mDNS queries for the bridge.
func Advertise(desc light.Descriptor, cfg AdvertiserConfig) (*Advertiser, error) {
	svc, err := ServiceZone(desc, cfg)
	if err != nil {
		return nil, err
	}
	mcfg := &mdns.Config{Zone: svc}
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("mdns interface %q: %w", cfg.Interface, err)
		}
		mcfg.Iface = ifi
	}
	server, err := mdns.NewServer(mcfg)
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	log.Info().
		Str("instance", svc.Instance).
		Str("service", ServiceType).
		Int("port", cfg.Port).
		Msg("mDNS advertisement started")
	return &Advertiser{server: server}, nil
}

// Close stops the advertisement.
func (a *Advertiser) Close() error {
	return a.server.Shutdown()
}
