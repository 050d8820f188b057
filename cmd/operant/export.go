package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/recorder"
)

var (
	exportSession string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored session as a CSV data sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		events, err := st.Events(exportSession)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("session %s has no events", exportSession)
		}

		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			if err := ensureParent(exportOut); err != nil {
				return err
			}
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}
		if err := recorder.WriteAll(w, events); err != nil {
			return err
		}
		logger.Info("session exported", zap.String("session", exportSession), zap.Int("events", len(events)), zap.String("out", exportOut))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSession, "session", "", "session ID")
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "output file (- for stdout)")
	_ = exportCmd.MarkFlagRequired("session")
}
