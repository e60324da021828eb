// Command plot-visibility renders amplitude and phase spectra of a run's
// stored records as PNG files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/visibility.report/internal/db"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/plotting"
)

var (
	dbPath    = flag.String("db", "visibility.db", "SQLite database path")
	runID     = flag.String("run", "", "Run ID (required)")
	outDir    = flag.String("out", "plots", "Output directory")
	from      = flag.Int("from", 0, "First record index")
	count     = flag.Int("n", 1, "Number of records to plot (0 = all)")
	crossOnly = flag.Bool("cross", false, "Leave autocorrelations out of the amplitude plot")
)

func main() {
	flag.Parse()
	if *runID == "" {
		log.Fatal("-run is required")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	recs, err := sqlite.NewRecordStore(database.DB).List(context.Background(), *runID, *from, *count)
	if err != nil {
		log.Fatalf("Failed to load records: %v", err)
	}
	if len(recs) == 0 {
		log.Fatalf("No records for run %s from index %d", *runID, *from)
	}

	sp, err := plotting.NewSpectrumPlotter(*outDir, *crossOnly)
	if err != nil {
		log.Fatal(err)
	}
	for i, rec := range recs {
		files, err := sp.PlotRecord(fmt.Sprintf("record_%04d", *from+i), rec)
		if err != nil {
			log.Fatalf("Failed to plot record %d: %v", *from+i, err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
	}
}
