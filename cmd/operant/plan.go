package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

var (
	planIntake intakeFlags
	planJSON   bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a session without running it",
	Long: `Classifies the stimulus folder and prints the trial sequence a run with
the same settings and seed would use. Nothing is written to the ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := planIntake.settings()
		if err := s.Validate(cfg); err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		plan, cat, err := buildPlan(s, stimulus.DryRun(ledgerFor(st)), logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if planJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		counts := cat.Counts()
		fmt.Fprintf(out, "%s seed=%d mode=%s trials=%d probes=%v\n",
			headerStyle.Render(s.Subject), plan.Seed, plan.Design.Mode, plan.Len(), plan.ProbeIndices)
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("stimuli: %d training, %d probe, %d foil-only",
			counts[stimulus.CategoryTraining], counts[stimulus.CategoryProbe], counts[stimulus.CategoryFoilOnly])))
		if foil, ok := cat.FMFoil(); ok {
			fmt.Fprintln(out, dimStyle.Render("fast-mapping foil (not reserved): "+foil.ID))
		}

		rows := make([][]string, 0, plan.Len())
		for _, t := range plan.Trials {
			left, right := "-", "-"
			if it, ok := t.Left(); ok {
				left = it.ID
			}
			if it, ok := t.Right(); ok {
				right = it.ID
			}
			if t.CorrectSide == planner.SideCenter {
				left = t.Correct.ID + " (center)"
			}
			rows = append(rows, []string{
				strconv.Itoa(t.Index), string(t.Category), t.Sample.ID, left, right,
				string(t.CorrectSide), strconv.Itoa(t.SampleRatio),
			})
		}
		printTable(out, []string{"#", "category", "sample", "left", "right", "correct", "FR"}, rows)
		return nil
	},
}

func init() {
	planIntake.register(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
}
