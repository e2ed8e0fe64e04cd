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
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/stopline/internal/api"
	"github.com/banshee-data/stopline/internal/config"
	"github.com/banshee-data/stopline/internal/db"
	"github.com/banshee-data/stopline/internal/network"
	"github.com/banshee-data/stopline/internal/security"
	"github.com/banshee-data/stopline/internal/serialmux"
	"github.com/banshee-data/stopline/internal/stopline"
	"github.com/banshee-data/stopline/internal/timeutil"
	"github.com/banshee-data/stopline/internal/version"
	"github.com/banshee-data/stopline/internal/visualiser"
)

var (
	configPath    = flag.String("config", "", "Path to JSON configuration (default "+config.DefaultConfigPath+" when present)")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", "localhost:50051", "gRPC listen address for the signal stream (empty disables)")
	dbPath        = flag.String("db", "stopline.db", "SQLite database path (empty disables recording)")
	port          = flag.String("port", "/dev/ttySC1", "Serial port to use (ignored in dev mode)")
	devMode       = flag.Bool("dev", false, "Replay the fixture file instead of opening the serial port")
	fixtures      = flag.String("fixtures", "config/fixtures/loop.jsonl", "Fixture file replayed in dev mode")
	disableSerial = flag.Bool("disable-serial", false, "Run without a serial link")
	udpEnable     = flag.Bool("udp", false, "Listen for event datagrams on udp_event_port")
	udpHost       = flag.String("udp-host", "", "Host to bind the UDP listener to")
	pcapFile      = flag.String("pcap", "", "Replay event datagrams from a pcap or pcapng capture")
	pcapRealtime  = flag.Bool("pcap-realtime", true, "Pace pcap replay by capture timestamps")
	pcapSpeed     = flag.Float64("pcap-speed", 1, "Realtime pcap replay speed multiplier")
	plotOut       = flag.String("plot-out", "", "Periodically write a PNG of the path, lights and car to this file")
	plotEvery     = flag.Duration("plot-every", 10*time.Second, "Interval between -plot-out refreshes")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads path, or the default file if path is empty and the file
// exists. With neither, built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return &config.Config{}, nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadConfig(path)
}

// openSerial picks the line source: disabled, fixture replay or a real
// port. The second result names it for the run record.
func openSerial(cfg *config.Config) (serialmux.SerialMuxInterface, string, error) {
	switch {
	case *disableSerial:
		return serialmux.NewDisabledSerialMux(), "disabled", nil
	case *devMode:
		lines, err := serialmux.LoadFixture(*fixtures)
		if err != nil {
			return nil, "", err
		}
		m := serialmux.NewMockSerialMux(lines, serialmux.MockOptions{
			Interval: cfg.GetFixtureInterval(),
			Repeat:   true,
		})
		return m, "fixtures:" + *fixtures, nil
	default:
		m, err := serialmux.NewRealSerialMux(*port, cfg.GetSerialOptions())
		if err != nil {
			return nil, "", err
		}
		return m, "serial:" + *port, nil
	}
}

// pipeline is the perception loop with its output sinks attached.
type pipeline struct {
	dispatcher *stopline.Dispatcher
	recorder   *db.Recorder
	runID      string
}

// newPipeline builds the loop from cfg. When database is non-nil a run is
// started and every signal change and association is recorded against it.
func newPipeline(ctx context.Context, cfg *config.Config, database *db.DB, source string, extra ...stopline.Publisher) (*pipeline, error) {
	lc := cfg.LoopConfig()
	p := &pipeline{}

	var pubs stopline.MultiPublisher
	if database != nil {
		run := &db.Run{
			StopLines:           len(lc.StopLines),
			StateCountThreshold: lc.StateCountThreshold,
			Source:              source,
		}
		if err := database.StartRun(ctx, run); err != nil {
			return nil, err
		}
		p.runID = run.ID
		p.recorder = db.NewRecorder(database, run.ID)
		pubs = append(pubs, p.recorder)
		lc.Observer = p.recorder
	}
	pubs = append(pubs, extra...)
	lc.Publisher = pubs

	p.dispatcher = stopline.NewDispatcher(stopline.NewLoop(lc), cfg.GetEventQueueSize())
	return p, nil
}

// lineHandler adapts the dispatcher to the network transports.
func lineHandler(d *stopline.Dispatcher) network.LineHandler {
	return func(ctx context.Context, line string) error {
		return serialmux.HandleEvent(ctx, d, line)
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("stopline %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if *plotOut != "" {
		if err := security.ValidateExportPath(*plotOut); err != nil {
			log.Fatalf("invalid -plot-out: %v", err)
		}
		if *plotEvery <= 0 {
			log.Fatal("-plot-every must be positive")
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("loaded %d stop lines, state count threshold %d", len(cfg.GetStopLines()), cfg.GetStateCountThreshold())

	serialMux, source, err := openSerial(cfg)
	if err != nil {
		log.Fatalf("failed to open serial source: %v", err)
	}
	defer serialMux.Close()

	sources := []string{source}
	if *udpEnable {
		sources = append(sources, fmt.Sprintf("udp:%d", cfg.GetUDPEventPort()))
	}
	if *pcapFile != "" {
		sources = append(sources, "pcap:"+*pcapFile)
	}

	var database *db.DB
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
	}

	var extra []stopline.Publisher
	var publisher *visualiser.Publisher
	if *grpcListen != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = *grpcListen
		publisher = visualiser.NewPublisher(vcfg)
		extra = append(extra, publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe, err := newPipeline(ctx, cfg, database, strings.Join(sources, ","), extra...)
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	if pipe.runID != "" {
		log.Printf("recording run %s to %s", pipe.runID, *dbPath)
	}
	handler := lineHandler(pipe.dispatcher)

	// Create a wait group for every transport, the loop, and the HTTP server
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("perception loop stopped: %v", err)
		}
		log.Print("perception loop terminated")
	}()

	// subscribe before monitoring so no line is lost
	id, lines := serialMux.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer serialMux.Unsubscribe(id)
		if err := serialmux.ForwardFrom(ctx, lines, pipe.dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial forwarding stopped: %v", err)
		}
		log.Print("subscribe routine terminated")
	}()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if *udpEnable {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     fmt.Sprintf("%s:%d", *udpHost, cfg.GetUDPEventPort()),
			LogInterval: time.Minute,
			Handler:     handler,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener error: %v", err)
			}
			log.Print("UDP listener terminated")
		}()
	}

	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := network.ReadPCAPFile(ctx, *pcapFile, handler, network.ReplayOptions{
				UDPPort:  cfg.GetUDPEventPort(),
				Realtime: *pcapRealtime,
				Speed:    *pcapSpeed,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay error: %v", err)
			}
			if stats != nil {
				stats.LogStats("pcap")
			}
			log.Print("pcap replay finished")
		}()
	}

	if publisher != nil {
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start gRPC publisher: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			publisher.Stop()
			log.Print("gRPC publisher stopped")
		}()
	}

	if *plotOut != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writePlots(ctx, pipe.dispatcher, *plotOut, *plotEvery, timeutil.RealClock{})
			log.Print("plot writer terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Options{
			Source: pipe.dispatcher,
			DB:     database,
			RunID:  pipe.runID,
			Mux:    serialMux,
			Config: cfg,
		}).ServeMux()

		serialMux.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
