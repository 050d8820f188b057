package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/store"
)

var ledgerSubject string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or import the used fast-mapping stimulus ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stimuli already used as fast-mapping foils for a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := ledgerFor(st).Used(ledgerSubject)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no stimuli used by %s\n", ledgerSubject)
			return nil
		}
		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{e.Subject, e.Item, e.Date, e.Phase}
		}
		printTable(cmd.OutOrStdout(), store.LedgerHeader, rows)
		return nil
	},
}

var ledgerImportCmd = &cobra.Command{
	Use:   "import FILE.csv",
	Short: "Import a legacy per-subject ledger CSV into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer f.Close()

		n, err := store.ImportLedgerCSV(st, f)
		if err != nil {
			return err
		}
		logger.Info("ledger imported", zap.String("file", args[0]), zap.Int("rows", n))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries\n", n)
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerSubject, "subject", "", "subject name")
	_ = ledgerListCmd.MarkFlagRequired("subject")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerImportCmd)
}
