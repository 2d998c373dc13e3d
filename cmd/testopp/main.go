package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/chaz8081/testopp/internal/archive"
	"github.com/chaz8081/testopp/internal/ble"
	"github.com/chaz8081/testopp/internal/config"
	"github.com/chaz8081/testopp/internal/notify"
	"github.com/chaz8081/testopp/internal/opp"
	"github.com/chaz8081/testopp/internal/tui"
	"github.com/chaz8081/testopp/internal/watch"
)

type runCmd struct {
	Config   string `arg:"--config" help:"path to config file (default: ~/.config/testopp/config.yaml)"`
	Headless bool   `arg:"--headless" help:"print notifications instead of starting the terminal UI"`
	Driver   string `arg:"--driver" help:"override the configured driver (bluez or loopback)"`
	Send     bool   `arg:"--send" help:"in headless mode, send the configured file once the adapter is up"`
}

type scanCmd struct {
	Timeout time.Duration `arg:"--timeout" default:"10s" help:"how long to scan"`
}

type initCmd struct{}

type args struct {
	Run  *runCmd  `arg:"subcommand:run" help:"watch downloads and push files over OBEX"`
	Scan *scanCmd `arg:"subcommand:scan" help:"list nearby Bluetooth devices"`
	Init *initCmd `arg:"subcommand:init" help:"write a default config file"`
}

func (args) Description() string {
	return "testopp pushes a file to a Bluetooth device and lists archives arriving in a downloads directory"
}

func main() {
	var a args
	p := arg.MustParse(&a)

	switch {
	case a.Scan != nil:
		runScan(a.Scan.Timeout)
	case a.Init != nil:
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		log.Printf("Wrote default config to %s", path)
	case a.Run != nil:
		run(a.Run)
	default:
		p.WriteHelp(os.Stdout)
		os.Exit(2)
	}
}

func run(opts *runCmd) {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	interactive := !opts.Headless && term.IsTerminal(int(os.Stdout.Fd()))
	setupLogging(config.ParseLogLevel(cfg.LogLevel), interactive)

	if !interactive {
		printBanner(cfg)
	}

	stream := notify.NewStream(64)
	controller := opp.NewController(newDriver(cfg), stream)

	lister := archive.NewCommandLister(archive.CommandOptions{
		Command: cfg.Lister.Command,
		Args:    cfg.Lister.Args,
		Timeout: cfg.Lister.Timeout,
		Retries: cfg.Lister.Retries,
	})
	watcher := watch.New(watch.Options{
		Dir:     cfg.Watch.Dir,
		Pattern: cfg.Watch.Pattern,
		Settle:  cfg.Watch.Settle,
	}, lister, stream)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("Failed to watch %s: %v", cfg.Watch.Dir, err)
	}
	// Archives already waiting in the directory.
	watcher.Rescan()

	request := opp.TransferRequest{Address: cfg.TargetAddress, Path: cfg.SendFilePath}
	if interactive {
		runInteractive(ctx, controller, stream, request)
	} else {
		runHeadless(ctx, controller, stream, request, opts.Send)
	}

	// Closing the stream first releases any producer blocked on delivery.
	stream.Close()
	if err := watcher.Close(); err != nil {
		slog.Warn("[WATCH] close", "error", err)
	}
	controller.Close()
	if !interactive {
		log.Println("Goodbye!")
	}
}

func runInteractive(ctx context.Context, controller *opp.Controller, stream *notify.Stream, request opp.TransferRequest) {
	prog := tea.NewProgram(tui.New(controller, stream.Events(), request), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		slog.Error("terminal UI failed", "error", err)
	}
}

func runHeadless(ctx context.Context, controller *opp.Controller, stream *notify.Stream, request opp.TransferRequest, send bool) {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range stream.Events() {
			if ev.Kind == notify.KindMessage {
				fmt.Println(ev.Text)
			}
		}
	}()

	if err := controller.ToggleAdapter(true); err == nil && send {
		_ = controller.SendFile(request.Address, request.Path)
	}

	log.Println("Ready! Ctrl+C to quit.")
	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case <-printed:
	}
}

func runScan(timeout time.Duration) {
	setupLogging(slog.LevelInfo, false)
	log.Printf("Scanning for %s...", timeout)

	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), timeout)
	if err != nil {
		log.Fatalf("Scan failed: %v\n\nEnsure Bluetooth is on and this process may use it.", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Printf("  %-20s  %4d dBm  %s\n", d.Address, d.RSSI, name)
	}
	fmt.Println("\nSet target_address in your config to the device you want to push to.")
}

func newDriver(cfg *config.Config) opp.Driver {
	if cfg.Driver == "loopback" {
		return opp.NewLoopbackDriver(opp.DefaultLoopbackOptions())
	}
	return opp.NewBlueZDriver(cfg.Adapter)
}

// setupLogging installs the default slog handler. The terminal UI owns
// stdout and stderr while running, so only warnings get through.
func setupLogging(level slog.Level, interactive bool) {
	if interactive && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults (run 'testopp init' to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== testopp ===")
	fmt.Printf("  Driver:  %s\n", cfg.Driver)
	fmt.Printf("  Target:  %s\n", cfg.TargetAddress)
	fmt.Printf("  File:    %s\n", cfg.SendFilePath)
	fmt.Printf("  Watch:   %s (%s)\n", cfg.Watch.Dir, cfg.Watch.Pattern)
	fmt.Printf("  Lister:  %s\n", cfg.Lister.Command)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
