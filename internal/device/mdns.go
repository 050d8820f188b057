package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type hopper daemons advertise.
const ServiceType = "_operant-hopper._tcp"

// ErrNotFound is returned when discovery sees no hopper daemon.
var ErrNotFound = errors.New("device: no hopper advertised")

// Advertise announces a hopper daemon for a chamber on the local network.
// The caller shuts the returned server down.
func Advertise(chamber string, port int) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	name := strings.TrimSpace(chamber)
	if name == "" {
		name = "operant"
	}
	txt := []string{fmt.Sprintf("chamber=%s", name)}
	service, err := mdns.NewMDNSService(name, ServiceType, "local", "", port, nil, txt)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

// Discover returns host:port of an advertised hopper. When chamber is set
// only a daemon advertising that chamber matches.
func Discover(chamber string, timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 4)
	var found []*mdns.ServiceEntry
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			found = append(found, e)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return "", fmt.Errorf("mdns query: %w", err)
	}

	for _, e := range found {
		addr := entryAddr(e)
		if addr == "" {
			continue
		}
		if chamber == "" || chamberOf(e) == chamber {
			return addr, nil
		}
	}
	return "", ErrNotFound
}

func entryAddr(e *mdns.ServiceEntry) string {
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return ""
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))
}

func chamberOf(e *mdns.ServiceEntry) string {
	for _, f := range e.InfoFields {
		if v, ok := strings.CutPrefix(f, "chamber="); ok {
			return v
		}
	}
	return ""
}
