// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/panelsim/pkg/fleet"
)

var (
	useTUI        bool
	snapshotPath  string
	statsInterval int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the panel fleet",
	Long: `Start every configured panel. Each one connects to the server on a
randomized schedule, answers protocol requests, sends unsolicited status, and
disconnects again after a random uptime.

Events are printed as they happen. Use --tui for an interactive fleet monitor.
With --snapshot, state blocks are restored from the file at startup (if it
exists) and written back on exit.`,
	RunE: runFleet,
}

func init() {
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Interactive fleet monitor")
	runCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "State snapshot file (CBOR)")
	runCmd.Flags().IntVar(&statsInterval, "stats-interval", 30, "Print fleet totals every N seconds (text mode, 0 disables)")
	rootCmd.AddCommand(runCmd)
}

func runFleet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}

	// The TUI owns the terminal, so logs must go elsewhere
	if useTUI && logFile == "" {
		logger, err = newLogger("error", os.DevNull)
		if err != nil {
			return err
		}
	}

	registry, err := fleet.NewRegistry(cfg, fleet.WithLogger(logger))
	if err != nil {
		return err
	}

	if snapshotPath != "" {
		if err := loadSnapshot(registry, snapshotPath); err != nil {
			return err
		}
	}

	if metricsAddr != "" {
		srv := startMetrics(registry, metricsAddr)
		defer srv.Close()
	}

	registry.StartAll()
	defer registry.StopAll()

	if useTUI {
		p := tea.NewProgram(newFleetModel(registry, cfg), tea.WithAltScreen())
		go forwardEvents(p, registry)
		_, err = p.Run()
	} else {
		err = printEvents(cmd.Context(), registry)
	}

	if snapshotPath != "" {
		if serr := saveSnapshot(registry, snapshotPath); serr != nil {
			logger.Errorw("failed to save snapshot", "path", snapshotPath, "error", serr)
		}
	}
	return err
}

// printEvents writes fleet events to stdout until interrupted
func printEvents(ctx context.Context, registry *fleet.Registry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Panelsim - %d panels\n", registry.Len())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var tick <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			totals := registry.Totals()
			fmt.Print(totals.String())
			return nil

		case ev := <-registry.Events():
			fmt.Println(ev.String())

		case <-tick:
			totals := registry.Totals()
			totals.CalculateRates()
			fmt.Print(totals.String())
		}
	}
}

func startMetrics(registry *fleet.Registry, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Metrics().Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Infow("serving metrics", "addr", addr)
	return srv
}

func loadSnapshot(registry *fleet.Registry, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := registry.LoadSnapshot(f)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	logger.Infow("snapshot restored", "path", path, "devices", n)
	return nil
}

func saveSnapshot(registry *fleet.Registry, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := registry.SaveSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
