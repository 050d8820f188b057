package main

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/device"
)

// openDevice resolves the hopper from --device or the config:
// "sim", "grpc://host:port" or "mdns".
func openDevice(spec string, log *zap.Logger) (device.Device, error) {
	mode, addr := cfg.Device.Mode, cfg.Device.Addr
	switch {
	case spec == "":
	case strings.HasPrefix(spec, "grpc://"):
		mode, addr = "grpc", strings.TrimPrefix(spec, "grpc://")
	default:
		mode = spec
	}

	switch mode {
	case "", "sim":
		log.Info("using simulated hopper")
		return device.NewHopper(log.Named("hopper")), nil
	case "grpc":
		if addr == "" {
			return nil, fmt.Errorf("grpc device needs an address")
		}
		log.Info("using remote hopper", zap.String("addr", addr))
		return device.NewRemoteClient(addr)
	case "mdns":
		timeout := 3 * time.Second
		if d, err := time.ParseDuration(cfg.Device.DiscoverTimeout); err == nil {
			timeout = d
		}
		found, err := device.Discover(cfg.Chamber, timeout)
		if err != nil {
			return nil, fmt.Errorf("discover hopper for %s: %w", cfg.Chamber, err)
		}
		log.Info("discovered hopper", zap.String("chamber", cfg.Chamber), zap.String("addr", found))
		return device.NewRemoteClient(found)
	default:
		return nil, fmt.Errorf("unknown device %q", spec)
	}
}
