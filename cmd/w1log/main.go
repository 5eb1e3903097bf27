// Package main is the entry point for the one-wire temperature logger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jwulff/w1log/internal/config"
	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/eventlog"
	"github.com/jwulff/w1log/internal/poller"
	"github.com/jwulff/w1log/internal/storage"
	"github.com/jwulff/w1log/internal/storage/sqlite"
	"github.com/jwulff/w1log/internal/w1"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "finish":
		code = finishCommand(os.Args[2:])
	case "sensors":
		code = sensorsCommand(os.Args[2:])
	case "label":
		code = labelCommand(os.Args[2:])
	default:
		showUsage()
		code = 2
	}
	os.Exit(code)
}

func showUsage() {
	fmt.Println("Usage:")
	fmt.Println("  w1log run [-c config.yaml] [archive.db]             - Poll sensors and log changes")
	fmt.Println("  w1log finish [-c config.yaml] [archive.db]          - Mark all present sensors absent")
	fmt.Println("  w1log sensors [-c config.yaml] [archive.db]         - List registered sensors")
	fmt.Println("  w1log label [-c config.yaml] <sensor> <label> [db]  - Set a sensor's label")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  STORE_PATH          - Archive database file (if not given as argument)")
	fmt.Println("  W1_BASE_DIR         - One-wire device directory (default /sys/bus/w1/devices)")
	fmt.Println("  POLL_INTERVAL       - Delay between poll cycles (default 1s)")
	fmt.Println("  LOG_FORMAT          - console, json or logfmt")
	fmt.Println("  LOG_LEVEL           - debug, info, warn or error")
}

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlite.Store
}

// setup parses flags, loads configuration and opens the store. Any failure
// here is fatal: the logger must not run without a usable archive.
func setup(name string, args []string, positional int) (*app, []string, error) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := flags.String("c", "", "Path to configuration file")
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}

	rest := flags.Args()
	if len(rest) < positional {
		return nil, nil, fmt.Errorf("%s: expected %d argument(s), got %d", name, positional, len(rest))
	}
	var storePath string
	if len(rest) > positional {
		storePath = rest[positional]
	}

	cfg, err := config.Load(*configPath, storePath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := sqlite.NewFileStore(cfg.Store.Path, sqlite.Options{
		BusyTimeout: cfg.Store.BusyTimeout,
		SkipMigrate: cfg.Store.RequireSchema,
	})
	if err != nil {
		logger.Error("failed to open archive database", zap.String("path", cfg.Store.Path), zap.Error(err))
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("failed to open archive database %s: %w", cfg.Store.Path, err)
	}

	return &app{cfg: cfg, logger: logger, store: store}, rest[:positional], nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close archive database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func runCommand(args []string) int {
	a, _, err := setup("run", args, 0)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	a.logger.Info("starting one-wire temperature logger")
	a.cfg.PrintConfig(a.logger)

	// Handle Ctrl+C gracefully
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := poller.New(
		w1.NewBus(a.cfg.OneWire.BaseDir, a.cfg.OneWire.DevicePattern),
		eventlog.NewWriter(a.store, a.logger),
		domain.NewAllocator(nil),
		a.cfg.OneWire.PollInterval,
		a.logger,
	)
	if err := p.Run(ctx); err != nil {
		a.logger.Error("polling failed", zap.Error(err))
		return 1
	}
	return 0
}

func finishCommand(args []string) int {
	a, _, err := setup("finish", args, 0)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	writer := eventlog.NewWriter(a.store, a.logger)
	stamp := domain.NewAllocator(nil).UniqueStamp()

	n, err := writer.MarkAllAbsent(context.Background(), stamp)
	if err != nil {
		a.logger.Error("failed to write finish markers", zap.Error(err))
		return 1
	}
	a.logger.Info("finish markers written", zap.Int("sensors", n), zap.Stringer("stamp", stamp))
	return 0
}

func sensorsCommand(args []string) int {
	a, _, err := setup("sensors", args, 0)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	ctx := context.Background()
	sensors, err := a.store.Sensors(ctx)
	if err != nil {
		return fail(err)
	}
	open, err := a.store.OpenSensors(ctx)
	if err != nil {
		return fail(err)
	}
	present := make(map[domain.Identity]bool, len(open))
	for _, s := range open {
		present[s.GlobalID] = true
	}

	if len(sensors) == 0 {
		fmt.Println("No sensors registered.")
		return 0
	}
	fmt.Printf("%-4s %-20s %-8s %s\n", "ID", "SENSOR", "STATE", "LABEL")
	for _, s := range sensors {
		state := "absent"
		if present[s.GlobalID] {
			state = "present"
		}
		fmt.Printf("%-4d %-20s %-8s %s\n", s.ID, s.GlobalID, state, s.Label)
	}
	return 0
}

func labelCommand(args []string) int {
	a, rest, err := setup("label", args, 2)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	id := domain.Identity(rest[0])
	label := strings.TrimSpace(rest[1])
	if err := a.store.SetLabel(context.Background(), id, label); err != nil {
		if storage.IsNotFound(err) {
			fmt.Printf("Unknown sensor %s\n", id)
			return 1
		}
		return fail(err)
	}
	fmt.Printf("Sensor %s labelled %q\n", id, label)
	return 0
}
