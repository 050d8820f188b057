package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blaisdelllab/operant/internal/replay"
	"github.com/blaisdelllab/operant/internal/store"
)

var (
	inspectSession string
	inspectSubject string
	inspectLast    int
	inspectJSON    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List sessions or summarize one",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if inspectSession != "" {
			return inspectOne(cmd.OutOrStdout(), st, inspectSession)
		}
		return inspectList(cmd.OutOrStdout(), st)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectSession, "session", "", "session ID to summarize")
	inspectCmd.Flags().StringVar(&inspectSubject, "subject", "", "only sessions for this subject")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent sessions")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of a table")
}

// #region list-mode
type listRow struct {
	SessionID  string `json:"session_id"`
	Subject    string `json:"subject"`
	Phase      string `json:"phase"`
	StartedAt  string `json:"started_at"`
	Duration   string `json:"duration,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Trials     int    `json:"trials"`
	Reinforced int    `json:"reinforced"`
}

func inspectList(w io.Writer, st *store.Store) error {
	recs, err := st.ListSessions(inspectSubject, inspectLast)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "no sessions found")
		return nil
	}

	rows := make([]listRow, len(recs))
	for i, r := range recs {
		rows[i] = listRow{
			SessionID:  r.SessionID,
			Subject:    r.Meta.Subject,
			Phase:      fmt.Sprintf("%d %s", r.Meta.TrainingPhase, r.Meta.TrainingSubPhase),
			StartedAt:  r.StartedAt.Local().Format("2006-01-02 15:04"),
			Reason:     r.Reason,
			Trials:     r.Trials,
			Reinforced: r.Reinforced,
		}
		if r.Finished() {
			rows[i].Duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		} else {
			rows[i].Reason = "running"
		}
	}
	if inspectJSON {
		return writeJSON(w, rows)
	}

	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.SessionID, r.Subject, r.Phase, r.StartedAt, r.Duration, r.Reason,
			strconv.Itoa(r.Trials), strconv.Itoa(r.Reinforced)}
	}
	printTable(w, []string{"session", "subject", "phase", "started", "duration", "reason", "trials", "reinforced"}, table)
	return nil
}

// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	Session store.SessionRecord  `json:"session"`
	Summary replay.Summary       `json:"summary"`
	Trials  []replay.TrialRecord `json:"trials"`
}

func inspectOne(w io.Writer, st *store.Store, id string) error {
	rec, err := st.GetSession(id)
	if err != nil {
		return err
	}
	events, err := st.Events(id)
	if err != nil {
		return err
	}
	records, sum := replay.SummarizeEvents(events)
	if inspectJSON {
		return writeJSON(w, detailOutput{Session: rec, Summary: sum, Trials: records})
	}

	fmt.Fprintf(w, "%s  %s phase %d %s  seed %d\n", headerStyle.Render(rec.SessionID),
		rec.Meta.Subject, rec.Meta.TrainingPhase, rec.Meta.TrainingSubPhase, rec.Seed)
	fmt.Fprintf(w, "events %d  trials %d  correct %d  incorrect %d  accuracy %.1f%%  reinforced %d (auto %d)\n",
		len(events), sum.Trials, sum.Correct, sum.Incorrect, 100*sum.Accuracy, sum.Reinforced, sum.AutoReinforced)
	if sum.Probes > 0 {
		fmt.Fprintf(w, "probes %d  probe correct %d\n", sum.Probes, sum.ProbeCorrect)
	}
	if !sum.Ended {
		fmt.Fprintln(w, badStyle.Render("no SessionEnds event: the session did not shut down cleanly"))
	}
	if len(sum.Violations) > 0 {
		fmt.Fprintln(w, badStyle.Render(fmt.Sprintf("trials with more than one outcome: %v", sum.Violations)))
	}

	types := make([]string, 0, len(sum.ByType))
	for t := range sum.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	byType := make([][]string, len(types))
	for i, t := range types {
		c := sum.ByType[t]
		byType[i] = []string{t, strconv.Itoa(c.Trials), strconv.Itoa(c.Correct), strconv.Itoa(c.Incorrect)}
	}
	fmt.Fprintln(w)
	printTable(w, []string{"type", "trials", "correct", "incorrect"}, byType)

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{strconv.Itoa(r.Trial), r.Type, r.Sample, r.LComp, r.RComp, r.Outcome,
			strconv.Itoa(r.SamplePecks), strconv.Itoa(r.ChoicePecks), strconv.Itoa(r.StrayPecks),
			fmt.Sprintf("%.2fs", r.Latency.Seconds())}
	}
	fmt.Fprintln(w)
	printTable(w, []string{"#", "type", "sample", "left", "right", "outcome", "sample pecks", "choice pecks", "stray", "latency"}, rows)
	return nil
}

// #endregion detail-mode

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
