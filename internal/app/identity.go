package app

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/config"
	"github.com/dokzlo13/bulbd/internal/light"
)

var bridgeIDPattern = regexp.MustCompile(`^[0-9A-F]{16}$`)

// identity is the bridge descriptor plus the address clients should use.
type identity struct {
	desc light.Descriptor
	ip   string
	ifi  *net.Interface
}

// resolveIdentity fills in whatever the configuration leaves out from the
// host's network interfaces.
func resolveIdentity(cfg config.BridgeConfig) (identity, error) {
	id := identity{desc: light.Descriptor{
		Name:       cfg.Name,
		ModelID:    cfg.ModelID,
		SwVersion:  cfg.SwVersion,
		APIVersion: cfg.APIVersion,
	}}

	ifi, err := pickInterface(cfg.Interface)
	if err != nil {
		if cfg.Interface != "" {
			return id, err
		}
		log.Warn().Err(err).Msg("No usable network interface found")
	}
	id.ifi = ifi

	var mac net.HardwareAddr
	switch {
	case cfg.MAC != "":
		mac, err = net.ParseMAC(cfg.MAC)
		if err != nil {
			return id, fmt.Errorf("bridge.mac: %w", err)
		}
	case ifi != nil:
		mac = ifi.HardwareAddr
	}
	if len(mac) > 0 {
		id.desc.MAC = mac.String()
	}

	switch {
	case cfg.BridgeID != "":
		bid := strings.ToUpper(cfg.BridgeID)
		if !bridgeIDPattern.MatchString(bid) {
			return id, fmt.Errorf("bridge.bridge_id %q must be 16 hex digits", cfg.BridgeID)
		}
		id.desc.BridgeID = bid
	default:
		bid, err := light.BridgeIDFromMAC(mac)
		if err != nil {
			bid = light.RandomBridgeID()
			log.Warn().Str("bridge_id", bid).Msg("No MAC available, using a random bridge id for this run")
		}
		id.desc.BridgeID = bid
	}

	id.ip = cfg.IP
	if id.ip == "" {
		id.ip = interfaceIPv4(ifi)
	}
	if id.ip == "" {
		id.ip = "127.0.0.1"
		log.Warn().Msg("No IPv4 address found, advertising loopback")
	}
	return id, nil
}

func pickInterface(name string) (*net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("bridge.interface %q: %w", name, err)
		}
		return ifi, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}
		if interfaceIPv4(ifi) != "" {
			return ifi, nil
		}
	}
	return nil, errors.New("no interface with a MAC and an IPv4 address")
}

func interfaceIPv4(ifi *net.Interface) string {
	if ifi == nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return ""
}
