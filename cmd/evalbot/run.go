package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalbot/internal/bank"
	"evalbot/internal/cancel"
	"evalbot/internal/config"
	"evalbot/internal/driver"
	"evalbot/internal/driver/apicall"
	"evalbot/internal/driver/browser"
	"evalbot/internal/engine"
	"evalbot/internal/match"
	"evalbot/internal/remote"
	"evalbot/internal/transport"
	"evalbot/internal/traverse"
)

var (
	flagMode   string
	flagBank   string
	flagCourse string
	flagTarget int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through incomplete knowledge units",
	Long: `Loads the question bank, selects incomplete knowledge units in chapter
order and completes them through the configured execution mode.

Examples:
  evalbot run --mode api --bank bank.json --course 3f2a --target 5
  evalbot run --mode browser --bank bank.json`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVar(&flagMode, "mode", "", "execution mode: browser or api (overrides config)")
	runCmd.Flags().StringVar(&flagBank, "bank", "", "path to the question bank JSON (overrides config)")
	runCmd.Flags().StringVar(&flagCourse, "course", "", "course id on the assessment service (overrides config)")
	runCmd.Flags().IntVar(&flagTarget, "target", 0, "number of units to attempt, 0 for all")
}

func loadRunConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flagMode != "" {
		cfg.Mode = flagMode
	}
	if flagBank != "" {
		cfg.BankPath = flagBank
	}
	if flagCourse != "" {
		cfg.CourseID = flagCourse
	}
	if flagTarget > 0 {
		cfg.Traversal.TargetCount = flagTarget
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	b, err := bank.Load(cfg.BankPath)
	if err != nil {
		return err
	}
	chapters, units, questions, _ := b.Stats()
	logger.Info("question bank loaded",
		zap.String("course", b.CourseName),
		zap.Int("chapters", chapters),
		zap.Int("units", units),
		zap.Int("questions", questions))

	ctx, cancelAll := context.WithCancel(cmd.Context())
	defer cancelAll()

	// Ctrl-C requests a cooperative stop; the coordinator only ever writes
	// the token, everything else reads it at checkpoints.
	token := cancel.NewToken()
	coord := cancel.NewCoordinator(token, logger)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	stopCh := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-sigCh:
			close(stopCh)
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		coord.Listen(gctx, stopCh)
		return nil
	})

	resolver := match.New(cfg.Matcher, logger)

	var drv driver.Driver
	status := map[string]traverse.Status{}
	switch cfg.Mode {
	case config.ModeAPI:
		rc := remote.New(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			SignKey: cfg.Remote.SignKey,
		}, transport.New(cfg.Transport.Build(), logger), logger)
		if !rc.IsAlive(ctx) {
			return fmt.Errorf("assessment service unreachable or credential rejected")
		}
		if cfg.SkipCompleted {
			status, err = unitStatus(ctx, rc, cfg.CourseID)
			if err != nil {
				return err
			}
		}
		drv = apicall.New(cfg.API, rc, resolver, logger)

	case config.ModeBrowser:
		mgr := browser.NewManager(cfg.Browser, logger)
		if err := mgr.Start(ctx); err != nil {
			return err
		}
		defer mgr.Close()
		bd := browser.NewDriver(cfg.Browser, mgr.Page(), resolver, logger)
		defer bd.Close()
		drv = bd
	}

	walker := traverse.New(cfg.Traversal, b, status, logger)
	eng := engine.New(engine.Config{UnitDelayMs: cfg.UnitDelayMs}, drv, walker, token, logger)

	totals, err := eng.Run(ctx)
	cancelAll()
	if gerr := g.Wait(); gerr != nil && err == nil {
		err = gerr
	}
	if err != nil {
		return err
	}

	printTotals(totals)
	return nil
}

// unitStatus pre-scans server-reported unit standing so units that are passed
// or out of attempts are skipped without opening them.
func unitStatus(ctx context.Context, rc *remote.Client, courseID string) (map[string]traverse.Status, error) {
	reported, err := rc.CourseStatus(ctx, courseID)
	if err != nil {
		return nil, err
	}
	status := make(map[string]traverse.Status, len(reported))
	for id, s := range reported {
		status[id] = traverse.Status{IsPass: s.IsPass, Attempts: s.Attempts}
	}
	logger.Info("unit status pre-scan complete", zap.Int("units", len(status)))
	return status, nil
}

func printTotals(t traverse.RunTotals) {
	fmt.Println("run summary")
	fmt.Printf("  units attempted:  %d\n", t.AttemptedUnits)
	fmt.Printf("  units completed:  %d\n", t.CompletedUnits)
	fmt.Printf("  units failed:     %d\n", t.FailedUnits)
	fmt.Printf("  units skipped:    %d\n", t.SkippedUnits)
	fmt.Printf("  questions:        %d (answered %d, failed %d, skipped %d)\n",
		t.Questions.Total, t.Questions.Success, t.Questions.Failed, t.Questions.Skipped)
	if t.Stopped {
		fmt.Println("  stopped early by request")
	}
}
