package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/config"
	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/stimulus"
	"github.com/blaisdelllab/operant/internal/store"
)

// intakeFlags are the session settings shared by run and plan.
type intakeFlags struct {
	subject       string
	phase         int
	subphase      int
	mode          string
	ratio         int
	forcedChoice  []string
	newOnly       bool
	newOld        string
	probes        int
	trials        int
	seed          uint64
	sampleVisible bool
}

func (f *intakeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.subject, "subject", "", "subject name (required)")
	fs.IntVar(&f.phase, "phase", 1, "training phase 0-7 (0 is autoshaping)")
	fs.IntVar(&f.subphase, "subphase", 0, "subphase index: 0 training, 1 CBE.1, 2 FM.1, 3 CBE.2, 4 FM.2, 5 CBE.3, 6 FM.3")
	fs.StringVar(&f.mode, "mode", "", "override trial mode: match_to_sample, autoshaping, familiarization, association")
	fs.IntVar(&f.ratio, "ratio", 0, "fixed sample-key ratio (0 draws per trial)")
	fs.StringSliceVar(&f.forcedChoice, "forced-choice", nil, "forced-choice sample IDs")
	fs.BoolVar(&f.newOnly, "new-only", false, "use only stimuli introduced in this phase")
	fs.StringVar(&f.newOld, "new-old", "", "new/old session: New or Old")
	fs.IntVar(&f.probes, "probes", 0, "probe trials per session (0 uses config)")
	fs.IntVar(&f.trials, "trials", 0, "trials per session (0 uses config)")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed (0 picks one)")
	fs.BoolVar(&f.sampleVisible, "sample-visible", false, "keep the sample on screen during the choice")
	_ = cmd.MarkFlagRequired("subject")
}

func (f *intakeFlags) settings() config.Settings {
	seed := f.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return config.Settings{
		Subject:             f.subject,
		Phase:               f.phase,
		Subphase:            stimulus.Subphase(f.subphase),
		Mode:                planner.Mode(f.mode),
		ManualRatio:         f.ratio,
		ForcedChoice:        len(f.forcedChoice) > 0,
		ForcedChoiceStimuli: f.forcedChoice,
		NewOnly:             f.newOnly,
		NewOld:              stimulus.NewOld(f.newOld),
		Probes:              f.probes,
		Trials:              f.trials,
		SampleVisible:       f.sampleVisible,
		Seed:                seed,
		Date:                time.Now(),
	}
}

// openStore opens the session database, creating its folder.
func openStore() (*store.Store, error) {
	if err := ensureParent(cfg.Paths.Database); err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Paths.Database, err)
	}
	return st, nil
}

// ledgerFor returns the configured used-stimulus ledger.
func ledgerFor(st *store.Store) stimulus.Ledger {
	if cfg.Paths.LedgerDir != "" {
		return store.NewCSVLedger(cfg.Paths.LedgerDir)
	}
	return st
}

// buildPlan loads the stimulus folder, classifies it and plans a session.
func buildPlan(s config.Settings, ledger stimulus.Ledger, log *zap.Logger) (*planner.SessionPlan, *stimulus.Catalog, error) {
	items, err := stimulus.LoadDir(cfg.Paths.StimuliDir)
	if err != nil {
		return nil, nil, err
	}
	src := randdraw.New(s.Seed)
	cat, err := stimulus.Classify(items, s.ClassifyConfig(), ledger, src, log)
	if err != nil {
		return nil, nil, err
	}
	plan, err := planner.New(src, log).Build(cat, s.Design(cfg))
	if err != nil {
		return nil, nil, err
	}
	return plan, cat, nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
