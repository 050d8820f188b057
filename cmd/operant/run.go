package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blaisdelllab/operant/internal/display/term"
	"github.com/blaisdelllab/operant/internal/recorder"
	"github.com/blaisdelllab/operant/internal/session"
	"github.com/blaisdelllab/operant/internal/stimulus"
	"github.com/blaisdelllab/operant/internal/store"
)

var (
	runIntake   intakeFlags
	runDevice   string
	runNoRecord bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session in the terminal chamber display",
	Long: `Classifies the stimulus folder, plans the session, reserves any
fast-mapping foil, and runs the trial state machine. Press space to begin
once the subject is in the chamber; Esc ends the session early.`,
	RunE: runSession,
}

func init() {
	runIntake.register(runCmd)
	runCmd.Flags().StringVar(&runDevice, "device", "", "hopper: sim, grpc://host:port or mdns (default from config)")
	runCmd.Flags().BoolVar(&runNoRecord, "no-record", false, "do not write the CSV data sheet")
}

func runSession(cmd *cobra.Command, args []string) error {
	s := runIntake.settings()
	s.RecordData = !runNoRecord
	if err := s.Validate(cfg); err != nil {
		return err
	}

	// The terminal owns stdout for the chamber display, so session logs
	// go to a file next to the data.
	log, closeLog, err := sessionLogger(s.Subject)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	plan, _, err := buildPlan(s, ledgerFor(st), log)
	if err != nil {
		return err
	}
	designJSON, err := json.Marshal(plan.Design)
	if err != nil {
		return fmt.Errorf("encode design: %w", err)
	}
	rec, err := st.CreateSession(store.SessionRecord{
		Meta:       s.Meta(),
		Seed:       plan.Seed,
		DesignJSON: string(designJSON),
	})
	if err != nil {
		return err
	}
	log = log.With(zap.String("session", rec.SessionID))

	sinks := []recorder.Sink{st.Sink(rec.SessionID), recorder.NewLogSink(log)}
	var csvSink *recorder.CSVSink
	if s.RecordData {
		path := filepath.Join(cfg.Paths.DataDir, s.Subject,
			recorder.DataFileName(s.Subject, rec.StartedAt.Local(), s.Phase))
		if csvSink, err = recorder.CreateCSV(path); err != nil {
			return err
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
		log.Info("data sheet", zap.String("path", path))
	}
	sink := recorder.Multi(sinks...)

	dev, err := openDevice(runDevice, log)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := session.NewRunner(256, log)
	var m *session.Machine
	surface := term.New(term.Options{
		OnBegin:   func() { runner.Post(func() { m.Begin() }) },
		OnCancel:  func() { runner.Post(func() { m.Cancel(session.ReasonOperator) }) },
		AltScreen: true,
	})
	m, err = session.New(session.Options{
		Plan:      plan,
		Display:   surface,
		Device:    dev,
		Sink:      sink,
		Scheduler: session.NewLoopScheduler(runner),
		Logger:    log,
		Timing:    cfg.SessionTiming(s.Subject),
		Meta:      s.Meta(),
		Dispatch:  runner.Post,
		ShowText:  cfg.Display.ShowText,
	})
	if err != nil {
		return err
	}

	watcher, err := stimulus.NewWatcher(cfg.Paths.StimuliDir, log)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		log.Warn("stimulus folder not watched", zap.Error(err))
	}
	defer watcher.Stop()

	m.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx, m) })
	g.Go(func() error {
		err := surface.Run(gctx)
		// A terminal that goes away ends the session.
		runner.Post(func() { m.Cancel(session.ReasonOperator) })
		return err
	})
	runErr := g.Wait()

	out := m.Outcome()
	if out.EndedAt.IsZero() {
		out.Reason, out.EndedAt = session.ReasonOperator, time.Now()
	}
	if err := st.FinishSession(rec.SessionID, store.Outcome{
		Reason:     out.Reason,
		Trials:     out.Trials,
		Reinforced: out.Reinforced,
		EndedAt:    out.EndedAt,
	}); err != nil {
		log.Error("finish session", zap.Error(err))
	}
	for _, c := range watcher.Changes() {
		log.Warn("stimulus folder changed during session", zap.String("file", c.File), zap.String("op", c.Op))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s ended (%s): %d trials, %d reinforced, %d correct, %d incorrect\n",
		rec.SessionID, out.Reason, out.Trials, out.Reinforced, out.Correct, out.Incorrect)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// sessionLogger writes to <data_dir>/<subject>/operant.log.
func sessionLogger(subject string) (*zap.Logger, func(), error) {
	path := filepath.Join(cfg.Paths.DataDir, subject, "operant.log")
	if err := ensureParent(path); err != nil {
		return nil, nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(logger.Level())
	zc.OutputPaths = []string{path}
	zc.ErrorOutputPaths = []string{path}
	l, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("session log %s: %w", path, err)
	}
	logger.Info("session log", zap.String("path", path))
	return l, func() { _ = l.Sync() }, nil
}
