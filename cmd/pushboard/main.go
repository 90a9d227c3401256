package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cisco-netmig/script-push-board/internal/api"
	"github.com/cisco-netmig/script-push-board/internal/config"
	"github.com/cisco-netmig/script-push-board/internal/dispatch"
	"github.com/cisco-netmig/script-push-board/internal/events"
	"github.com/cisco-netmig/script-push-board/internal/importer"
	"github.com/cisco-netmig/script-push-board/internal/job"
	"github.com/cisco-netmig/script-push-board/internal/log"
	"github.com/cisco-netmig/script-push-board/internal/session"
	"github.com/cisco-netmig/script-push-board/internal/sink"
	"github.com/cisco-netmig/script-push-board/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "push":
		os.Exit(runPush(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("pushboard version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`pushboard - Concurrent configuration push for network devices

Usage:
  pushboard <command> [flags]

Commands:
  serve     Start the dispatcher with the HTTP control API
  push      Push a CSV of device/config pairs and wait for the outcome
  watch     Live status board against a running server
  version   Show version information
  help      Show this help message

Use 'pushboard <command> -h' for command-specific flags.
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snk, err := sink.NewSQLite(ctx, cfg.Sink.Path)
	if err != nil {
		logger.Error("failed to open push log", "path", cfg.Sink.Path, "error", err)
		return 1
	}

	hub := events.NewHub(cfg.Dispatcher.EventBuffer, cfg.Dispatcher.EventBuffer)
	disp := dispatch.New(cfg, session.NewSSH(cfg.Session), snk, hub)

	logger.Info("dispatcher started",
		"pool_size", cfg.Dispatcher.PoolSize,
		"sink", cfg.Sink.Path,
		"api_enabled", cfg.API.Enabled,
	)

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, disp, hub, log.WithComponent("api"))
		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("api server failed", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown incomplete", "error", err)
	}
	if err := snk.Close(shutdownCtx); err != nil {
		logger.Warn("sink close failed", "error", err)
	}
	logger.Info("pushboard stopped")
	return 0
}

func runPush(args []string) int {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	csvPath := fs.String("csv", "", "CSV file of device,config rows (required)")
	_ = fs.Parse(args)

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --csv is required")
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, "text")
	logger := log.WithComponent("push")

	specs, err := importer.ParseFile(*csvPath)
	if err != nil {
		logger.Error("csv import failed", "path", *csvPath, "error", err)
		return 1
	}
	logger.Info("csv imported", "path", *csvPath, "jobs", len(specs))

	hub := events.NewHub(cfg.Dispatcher.EventBuffer, cfg.Dispatcher.EventBuffer)
	snk := &sink.LogSink{Logger: logger}
	disp := dispatch.New(cfg, session.NewSSH(cfg.Session), snk, hub)

	handle, err := disp.Submit(specs)
	if err != nil {
		logger.Error("submit rejected", "error", err)
		return 1
	}

	ch, cancelSub, err := disp.Events(handle)
	if err != nil {
		logger.Error("event subscription failed", "error", err)
		return 1
	}
	defer cancelSub()

	// Ctrl-C aborts the batch; in-flight pushes stop at their next safe point.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("abort requested", "batch_id", handle)
		_ = disp.Abort(handle)
	}()

	failed := 0
	for ev := range ch {
		if ev.To.Terminal() {
			fmt.Printf("%-30s %s\n", ev.Device, ev.To)
			if ev.To == job.StatusFailed {
				failed++
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = disp.Shutdown(shutdownCtx)

	snap, err := disp.Status(handle)
	if err == nil {
		fmt.Printf("\n%d succeeded, %d failed, %d aborted\n",
			snap.Count(job.StatusSucceeded),
			snap.Count(job.StatusFailed),
			snap.Count(job.StatusAborted),
		)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "base URL of a running pushboard server")
	apiKey := fs.String("key", "", "API bearer token")
	batchID := fs.String("batch", "", "limit the board to one batch")
	_ = fs.Parse(args)

	p := tea.NewProgram(tui.NewBoard(*apiURL, *apiKey, *batchID))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
