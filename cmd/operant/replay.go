package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blaisdelllab/operant/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay FIXTURE.json...",
	Short: "Run scripted sessions headless and check their outcomes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			f, err := replay.LoadFixture(path)
			if err != nil {
				return err
			}
			res, err := replay.Run(f, logger.Named("replay"))
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s %s: %v\n", badStyle.Render("ERROR"), path, err)
				continue
			}
			diffs := replay.Check(f.Expected, res)
			if len(diffs) == 0 {
				fmt.Fprintf(out, "%s %s (%d trials, %d events)\n", goodStyle.Render("PASS"), path, res.Summary.Trials, len(res.Events))
				continue
			}
			failed++
			fmt.Fprintf(out, "%s %s\n", badStyle.Render("FAIL"), path)
			for _, d := range diffs {
				fmt.Fprintf(out, "  %s\n", d)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d fixtures failed", failed, len(args))
		}
		return nil
	},
}
