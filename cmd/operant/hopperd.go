package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/device"
)

var (
	hopperdListen    string
	hopperdAdvertise bool
)

var hopperdCmd = &cobra.Command{
	Use:   "hopperd",
	Short: "Serve a simulated hopper over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		lis, err := net.Listen("tcp", hopperdListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", hopperdListen, err)
		}
		log := logger.Named("hopperd")

		if hopperdAdvertise {
			port := lis.Addr().(*net.TCPAddr).Port
			srv, err := device.Advertise(cfg.Chamber, port)
			if err != nil {
				_ = lis.Close()
				return fmt.Errorf("advertise: %w", err)
			}
			defer srv.Shutdown()
			log.Info("advertising hopper", zap.String("chamber", cfg.Chamber), zap.Int("port", port))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hopper := device.NewHopper(log)
		defer hopper.Close()
		return device.Serve(ctx, lis, hopper, log)
	},
}

func init() {
	hopperdCmd.Flags().StringVar(&hopperdListen, "listen", ":50061", "listen address")
	hopperdCmd.Flags().BoolVar(&hopperdAdvertise, "advertise", false, "announce the hopper over mDNS")
}
