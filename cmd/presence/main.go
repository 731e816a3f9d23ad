package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/badge"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/dispatch"
	"github.com/banshee-data/presence.report/internal/health"
	"github.com/banshee-data/presence.report/internal/notify"
	"github.com/banshee-data/presence.report/internal/occupancy"
	"github.com/banshee-data/presence.report/internal/report"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to the JSON config file (defaults apply when empty)")
	envFile       = flag.String("env", ".env", "Path to a .env file holding secrets")
	dbPath        = flag.String("db", "presence.db", "Path to the SQLite database")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	devMode       = flag.Bool("dev", false, "Run in dev mode: replay frames, synthetic badge reads, reports written to disk")
	disableCamera = flag.Bool("disable-camera", false, "Run without the camera sampling loop")
	disableRFID   = flag.Bool("disable-rfid", false, "Run without the RFID reader")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// devCards are replayed by the mock serial port in dev mode.
var devCards = []string{
	badge.FormatCard("Ayşe Yılmaz", "04A1B2C3", false),
	badge.FormatCard("Office Admin", "04FFEE01", true),
	badge.FormatCard("Ayşe Yılmaz", "04A1B2C3", false),
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: presence [flags] [command]

Commands:
  (none)                    run the appliance
  migrate <action>          manage database migrations (up, down, version, force N)
  report --date YYYY-MM-DD  build and deliver one report, then exit

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, args[1:], *dbPath); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		case "report":
			if err := runReportCommand(args[1:]); err != nil {
				log.Fatalf("report: %v", err)
			}
			return
		default:
			flag.Usage()
			os.Exit(2)
		}
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file, if any, and the secrets.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LoadSecrets(*envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newReportPipeline builds the aggregator, renderer and notifier shared by the
// daemon and the report subcommand. outDir overrides the configured delivery.
func newReportPipeline(cfg *config.Config, store *db.DB, outDir string) (*report.Aggregator, *report.Renderer, notify.Notifier, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, nil, nil, err
	}
	agg := report.NewAggregator(store, loc)

	var gen report.TextGenerator
	if url := cfg.GetGeneratorURL(); url != "" {
		gen = report.NewChatClient(url, cfg.GetGeneratorModel(), cfg.GeneratorAPIKey, cfg.GetGeneratorTimeout())
		log.Printf("report generator: %s (%s)", url, cfg.GetGeneratorModel())
	} else {
		log.Printf("report generator disabled, using the HTML fallback")
	}
	renderer := report.NewRenderer(gen, cfg.GetGeneratorTimeout())

	if outDir == "" {
		outDir = cfg.GetReportOutDir()
	}
	if outDir == "" && *devMode {
		outDir = "reports"
	}
	if outDir != "" {
		log.Printf("reports will be written to %s", outDir)
		return agg, renderer, notify.DirNotifier{Dir: outDir}, nil
	}

	smtpNotifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.GetSMTPHost(),
		Port:     cfg.GetSMTPPort(),
		Username: cfg.GetSMTPUsername(),
		Password: cfg.SMTPPassword,
		From:     cfg.GetSMTPFrom(),
		To:       cfg.GetSMTPTo(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return agg, renderer, smtpNotifier, nil
}

func run() error {
	if *listen == "" {
		return errors.New("listen address is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.GetLocation()
	if err != nil {
		return err
	}
	log.Printf("%s starting, report timezone %s", version.String(), loc)

	store, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	registry := health.NewRegistry(nil)

	// Report pipeline and dispatcher.
	agg, renderer, notifier, err := newReportPipeline(cfg, store, "")
	if err != nil {
		return fmt.Errorf("report delivery: %w", err)
	}
	hour, minute, err := dispatch.ParseTimeOfDay(cfg.GetReportTime())
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(dispatch.Config{
		Hour:        hour,
		Minute:      minute,
		Location:    loc,
		RunTimeout:  cfg.GetRunTimeout(),
		AttachChart: cfg.GetAttachChart(),
	}, agg, renderer, notifier, store, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher stopped: %v", err)
		}
	}()

	// Camera loop.
	live := &occupancy.LatestFrame{}
	if *disableCamera {
		log.Printf("camera disabled")
	} else {
		src, err := newFrameSource(cfg)
		if err != nil {
			return err
		}
		sampler := occupancy.NewSampler(src, occupancy.NewHTTPDetector(cfg.GetDetectorURL(), cfg.GetDetectorTimeout()), cfg.GetReinitAfter())
		sampler.View = live
		debouncer := occupancy.NewDebouncerWindow(cfg.GetDebounceDepth(), cfg.GetConfirmTicks())
		mon := occupancy.NewMonitor(occupancy.MonitorConfig{
			Interval:        cfg.GetSamplingInterval(),
			BatchSize:       cfg.GetBatchSize(),
			InterFrameDelay: cfg.GetInterFrameDelay(),
			LiveInterval:    cfg.GetLiveInterval(),
			KeepFrames:      cfg.GetKeepFrames(),
		}, sampler, debouncer, store)
		mon.Status = registry
		registry.Report(occupancy.ComponentName, nil)

		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(ctx, occupancy.ComponentName, mon.Run, registry)
		}()

		pruner := db.NewFramePruner(store, cfg.GetFrameRetention())
		pruner.Start(ctx)
		defer pruner.Stop()
	}

	// RFID loop.
	rfid, err := newRFIDMux(ctx, cfg)
	if err != nil {
		return err
	}
	defer rfid.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rfid.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("serial monitor routine terminated")
	}()

	if !*disableRFID {
		reader := badge.NewSerialReader(rfid, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("badge reader stopped: %v", err)
			}
		}()

		bm := badge.NewMonitor(badge.MonitorConfig{
			PollInterval:  cfg.GetPollInterval(),
			PruneInterval: cfg.GetPruneInterval(),
			Retention:     cfg.GetMemoryRetention(),
		}, reader, badge.NewResolver(cfg.GetBadgeCooldown()), store, nil)
		bm.OnAdminEntry = dispatcher.TriggerAdmin
		bm.Status = registry
		registry.Report(badge.ComponentName, nil)

		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(ctx, badge.ComponentName, bm.Run, registry)
		}()
	}

	// gRPC health service.
	if addr := cfg.GetHealthListen(); addr != "" {
		hs := health.NewServer(addr, registry)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(store, agg, nil)
		srv.Trigger = dispatcher
		srv.Live = live
		srv.Health = registry

		mux := srv.ServeMux()
		rfid.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}

// newFrameSource picks the replay directory in dev mode or when configured,
// otherwise the camera's snapshot URL.
func newFrameSource(cfg *config.Config) (occupancy.FrameSource, error) {
	dir := cfg.GetFramesDir()
	if dir == "" && *devMode {
		dir = "testdata/frames"
	}
	if dir != "" {
		src, err := occupancy.NewDirSource(os.DirFS(dir), nil)
		if err != nil {
			return nil, fmt.Errorf("frame directory %s: %w", dir, err)
		}
		log.Printf("replaying %d frame(s) from %s", src.Len(), dir)
		return src, nil
	}
	log.Printf("camera snapshots from %s", cfg.GetSnapshotURL())
	return occupancy.NewSnapshotSource(cfg.GetSnapshotURL(), cfg.GetCameraTimeout()), nil
}

// newRFIDMux opens the reader's serial port, a synthetic feed in dev mode,
// or a disabled stand-in.
func newRFIDMux(ctx context.Context, cfg *config.Config) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableRFID:
		log.Printf("RFID reader disabled")
		return serialmux.NewDisabledSerialMux(), nil
	case *devMode:
		log.Printf("dev mode: synthetic badge reads every 20s")
		return serialmux.NewMockSerialMux(ctx, devCards, 20*time.Second), nil
	}

	port := cfg.GetRFIDPort()
	mux, err := serialmux.NewRealSerialMux(port, cfg.GetPortOptions())
	if err != nil {
		if ports, lerr := serialmux.ListPorts(); lerr == nil {
			log.Printf("available serial ports: %v", ports)
		}
		return nil, fmt.Errorf("failed to open RFID reader: %w", err)
	}
	log.Printf("RFID reader on %s", port)
	return mux, nil
}
