// Command correlate reassembles a stored capture's packets into frames,
// correlates every antenna pair and writes accumulated visibility records
// into the same database under a new run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/visibility.report/internal/config"
	"github.com/banshee-data/visibility.report/internal/db"
	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
	"github.com/banshee-data/visibility.report/internal/interferometer/runner"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/version"
)

var (
	dbPath      = flag.String("db", "visibility.db", "SQLite database path")
	configPath  = flag.String("config", "", "Correlator config JSON (default: built-in defaults)")
	captureID   = flag.String("capture", "", "Capture ID to correlate (default: the newest capture)")
	gainsPath   = flag.String("gains", "", "Gain table JSON; overrides gains_file")
	nacc        = flag.Int("nacc", 0, "Accumulation depth; overrides accumulation_depth")
	maxPackets  = flag.Int("packets", -1, "Maximum packets to read (0 = all); overrides max_packets")
	evictionAge = flag.Int64("eviction-age", 0, "Eviction age in frames; overrides eviction_age")
	partial     = flag.String("partial", "", "End-of-stream partial cycle: drop or emit")
	queue       = flag.Int("queue", -1, "Hand-off queue size (0 = sequential); overrides handoff_queue")
	logLevel    = flag.String("log", "ops", "Log level: off, ops, diag or trace")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s migrate <up|down|status|force N>\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], *dbPath); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if err := runner.SetLogLevel(*logLevel, os.Stderr); err != nil {
		log.Fatal(err)
	}

	// Geometry left unset here is taken from the capture.
	cfg := &config.CorrelatorConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadCorrelatorConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := *captureID
	if id == "" {
		captures, err := sqlite.NewCaptureStore(database.DB).List(ctx)
		if err != nil {
			log.Fatalf("Failed to list captures: %v", err)
		}
		if len(captures) == 0 {
			log.Fatal("No captures in database; run gen-packets first")
		}
		id = captures[0].CaptureID
	}
	capture, err := sqlite.NewCaptureStore(database.DB).Get(ctx, id)
	if err != nil {
		log.Fatalf("Failed to load capture: %v", err)
	}
	if cfg.Channels == nil {
		cfg.Channels = &capture.Channels
	}
	if cfg.Bins == nil {
		cfg.Bins = &capture.Bins
	}

	var gains l3correlate.GainTable
	if path := cfg.GetGainsFile(); path != "" {
		if gains, err = config.LoadGainTable(path, cfg.GetChannels(), cfg.GetBins()); err != nil {
			log.Fatalf("Failed to load gains: %v", err)
		}
	}

	log.Printf("correlate %s: capture %s", version.String(), id)
	run, sum, err := runner.NewManager(database.DB, 0).Execute(ctx, id, cfg.PipelineConfig(gains), cfg)
	if run != nil {
		log.Printf("run %s: %s", run.RunID, run.Status)
	}
	fmt.Println(sum)
	if err != nil {
		log.Fatalf("Correlation failed: %v", err)
	}
}

// applyFlagOverrides copies explicitly set flags over the file config.
func applyFlagOverrides(cfg *config.CorrelatorConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "gains":
			cfg.GainsFile = gainsPath
		case "nacc":
			cfg.AccumulationDepth = nacc
		case "packets":
			cfg.MaxPackets = maxPackets
		case "eviction-age":
			cfg.EvictionAge = evictionAge
		case "partial":
			if _, err := l4accumulate.ParsePartialPolicy(*partial); err != nil {
				log.Fatal(err)
			}
			cfg.PartialCycle = partial
		case "queue":
			cfg.HandoffQueue = queue
		}
	})
}
