package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pagewatch/internal/config"
	"pagewatch/internal/coordinator"
	"pagewatch/internal/daemon"
	"pagewatch/internal/database"
	"pagewatch/internal/logging"
	"pagewatch/internal/recorder"
	"pagewatch/internal/reporter"
	"pagewatch/internal/web"
	"pagewatch/pkg/browser"
	"pagewatch/pkg/browser/sim"
	"pagewatch/pkg/detector"
	"pagewatch/pkg/idle"
	"pagewatch/pkg/utils"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const logPath = "/tmp/pagewatch.log"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "serve":
		serveDaemon()
	case "stop":
		stopDaemon()
	case "status":
		showStatus()
	case "report":
		generateReport()
	case "demo":
		runDemo()
	case "clear":
		clearDatabase()
	case "version":
		fmt.Printf("pagewatch version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`pagewatch - Browser page attention tracker

Usage:
  pagewatch <command> [options]

Commands:
  serve              Start the tracking daemon with the web API
  stop               Stop the tracking daemon
  status             Show daemon status and latest visit
  report [period]    Generate browsing report (period: day, week, month)
  demo               Run a simulated browsing session in the foreground
  clear              Clear all visit data from the database
  version            Show version information
  help               Show this help message

Examples:
  pagewatch serve
  pagewatch status
  pagewatch report day
  pagewatch report week --json
  pagewatch stop

Environment Variables:
  PAGEWATCH_DB_PATH             Database file path
  PAGEWATCH_TRACK_INPUT         Gate attention on user input (true/false)
  PAGEWATCH_IDLE_THRESHOLD      Idle threshold in seconds
  PAGEWATCH_IDLE_POLL_INTERVAL  Idle poll interval in seconds (1-60)
  PAGEWATCH_RECORD_PRIVATE      Persist private-window visits (true/false)
  PAGEWATCH_PID_FILE            PID file path
  PAGEWATCH_TIMEZONE            Report time zone
  PAGEWATCH_WEB_HOST            Web server host
  PAGEWATCH_WEB_PORT            Web server port

Version: %s
`, version)
}

func serveDaemon() {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}
	if running {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID: %d)\n", pid)
		os.Exit(1)
	}

	if !daemon.IsChild() {
		childPid, err := dm.Spawn()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Daemon started successfully (PID: %d)\n", childPid)
		fmt.Printf("Web API available at: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
		fmt.Printf("Logs: %s\n", logPath)
		return
	}

	log, err := logging.File(logPath, false)
	if err != nil {
		log = logging.Console(false)
	}
	defer log.Sync()

	if err := runServe(cfg, dm, log); err != nil {
		log.Fatal("daemon failed", zap.Error(err))
	}
}

func runServe(cfg *config.Config, dm *daemon.Daemon, log *zap.Logger) error {
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := dm.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer dm.RemovePID()

	repo := database.NewRepository(db)

	// Input tracking needs an X display; without one attention follows
	// window focus alone.
	trackInput := cfg.Idle.TrackInput
	var sampler detector.Sampler
	if trackInput {
		sampler, err = detector.New()
		if err != nil {
			log.Warn("input idle detection unavailable, attention follows focus only", zap.Error(err))
			trackInput = false
		} else {
			defer sampler.Close()
		}
	}

	// The host is a simulated browser driven by the HTTP ingest endpoint.
	host := sim.New()
	coord := coordinator.New(host, coordinator.Config{
		TrackingInput: trackInput,
		IdleThreshold: cfg.Idle.Threshold,
	}, log)

	rec := recorder.New(repo, cfg.Recorder.RecordPrivate, log)
	rec.Attach(coord.Bridge())

	var monitor *idle.Monitor
	if trackInput {
		monitor = idle.NewMonitor(sampler, cfg.Idle.PollInterval, log)
		if err := coord.AttachIdle(monitor); err != nil {
			return fmt.Errorf("failed to attach idle monitor: %w", err)
		}
	}

	server := web.NewServer(cfg, repo, coord.Status, web.NewIngest(host, log), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("starting pagewatch daemon", zap.String("addr", server.GetAddress()))
	log.Info("configuration", zap.String("config", cfg.String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(ctx)
	})
	if monitor != nil {
		g.Go(func() error {
			return monitor.Start(ctx)
		})
	}
	g.Go(func() error {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-sigChan:
			log.Info("received shutdown signal")
		case <-ctx.Done():
		}
		cancel()
		coord.Stop()
		if monitor != nil {
			monitor.Stop()
		}
		_ = host.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("daemon stopped successfully")
	return nil
}

func stopDaemon() {
	cfg := config.New()
	dm := daemon.New(cfg.Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}

	if !running {
		fmt.Println("Daemon is not running")
		return
	}

	fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
	if err := dm.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Daemon stopped successfully")
}

func showStatus() {
	cfg := config.New()
	dm := daemon.New(cfg.Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}

	if !running {
		fmt.Println("Status: Not running")
	} else {
		fmt.Printf("Status: Running (PID: %d)\n", pid)
		fmt.Printf("Web API: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
		fmt.Printf("Database: %s\n", cfg.Database.Path)
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return
	}
	defer db.Close()

	repo := database.NewRepository(db)
	visit, err := repo.GetLatestVisit()
	if err != nil || visit == nil {
		return
	}

	fmt.Printf("\nLatest Visit:\n")
	fmt.Printf("  Domain: %s\n", visit.Domain)
	fmt.Printf("  URL: %s\n", visit.URL)
	fmt.Printf("  Started: %s\n", visit.StartTime.Format("2006-01-02 15:04:05"))
	if visit.StopTime != nil {
		fmt.Printf("  Duration: %s\n", utils.FormatRoundedUnit(visit.DurationSeconds))
	} else {
		fmt.Printf("  Duration: still open\n")
	}
}

func generateReport() {
	periodType := "day"
	if len(os.Args) > 2 {
		periodType = os.Args[2]
	}

	cfg := config.New()

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	rep := reporter.New(cfg, repo)

	jsonOutput := false
	if len(os.Args) > 3 && os.Args[3] == "--json" {
		jsonOutput = true
	}

	report, err := rep.GenerateReport(periodType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate report: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonStr, err := rep.FormatReportJSON(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to format JSON: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(jsonStr)
	} else {
		fmt.Println(rep.FormatReportText(report))
	}
}

func clearDatabase() {
	cfg := config.New()

	fmt.Print("This will delete all visit data. Are you sure? (yes/no): ")
	var response string
	fmt.Scanln(&response)

	if response != "yes" && response != "y" {
		fmt.Println("Operation cancelled")
		return
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	if err := repo.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Database cleared successfully")
}

// runDemo drives a short simulated browsing session against an in-memory
// database and prints the resulting report.
func runDemo() {
	log := logging.Console(false)
	defer log.Sync()

	cfg := config.Default()
	cfg.Database.Path = "file::memory:?cache=shared"

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open in-memory database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	repo := database.NewRepository(db)

	host := sim.New()
	coord := coordinator.New(host, coordinator.Config{}, log)
	recorder.New(repo, false, log).Attach(coord.Bridge())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()

	fmt.Println("Simulating a browsing session...")
	session := []func() error{
		func() error { return host.AddWindow(1, browser.WindowTypeNormal, false) },
		func() error { return host.AddTab(10, 1, "https://news.example.com/briefing") },
		func() error { return host.FocusWindow(1) },
		func() error { return host.AddTab(11, 1, "https://video.example.com/watch?v=1") },
		func() error { return host.SetAudible(11, true) },
		func() error { return host.ActivateTab(10) },
		func() error { return host.Navigate(10, "https://news.example.com/story/42", "https://news.example.com/briefing") },
		func() error { return host.UpdateHistoryState(10, "https://news.example.com/story/42/comments") },
		func() error { return host.RemoveTab(11) },
	}
	for _, step := range session {
		if err := step(); err != nil {
			fmt.Fprintf(os.Stderr, "Demo step failed: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(300 * time.Millisecond)
	}

	// Let in-flight messages drain, then tear everything down so the open
	// visits complete.
	time.Sleep(500 * time.Millisecond)
	cancel()
	coord.Stop()
	<-done

	rep := reporter.New(cfg, repo)
	report, err := rep.GenerateReport("day")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(rep.FormatReportText(report))
}
