package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mabletask/agent/agent"
	"mabletask/agent/config"
	"mabletask/agent/logger"
	"mabletask/agent/store"
)

type replayOptions struct {
	*rootOptions
	TracePath string
	Settle    time.Duration
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Drive one agent through a recorded page trace",
		Long: `Replay a recorded JSON page trace through one agent and deliver its
envelopes to the configured endpoint. Timestamps in the trace drive the
agent clock, so throttles and late-widget re-scans fire as recorded.

Examples:
  agent replay --trace ./checkout.json
  agent replay --config agent.yaml --trace ./quote.json --settle 10s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.TracePath, "trace", "", "path to the JSON trace (required)")
	_ = cmd.MarkFlagRequired("trace")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 10*time.Second, "clock advance after the last trace call")
	return cmd
}

func runReplay(ctx context.Context, opts *replayOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Development: cfg.Service.Debug})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	f, err := os.Open(opts.TracePath)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	tr, err := agent.ReadTrace(f)
	if err != nil {
		return err
	}

	start := tr.Load.At
	if start.IsZero() {
		start = time.Now()
	}
	clock := agent.NewFakeClock(start)
	a, err := agent.New(&cfg.Agent, agent.Deps{
		Store: store.NewMemoryStore(clock.Now),
		Clock: clock,
		Log:   log.With(logger.String("trace", opts.TracePath)),
	})
	if err != nil {
		return err
	}

	if err := agent.Replay(ctx, a, clock, tr, opts.Settle); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	log.Info("Replay complete",
		logger.String("url", tr.Load.URL),
		logger.Int("events", len(tr.Events)),
		logger.Int("track_calls", len(tr.Track)),
		logger.Bool("has_click", a.Identity().HasClick()),
	)
	return nil
}
