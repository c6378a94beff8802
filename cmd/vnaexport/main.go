package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/openvna/vnad/pkg/storage"
)

func main() {
	var (
		dbPath  = flag.String("db", "vnad.db", "Trace database path")
		sweepID = flag.Int64("id", 0, "Sweep id to export (0 = latest)")
		output  = flag.String("output", "", "Output .s1p file (default stdout)")
		list    = flag.Bool("list", false, "List stored sweeps and exit")
	)
	flag.Parse()

	store, err := storage.NewTraceStore(*dbPath, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	if *list {
		sweeps, err := store.ListSweeps(50)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list sweeps: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%-6s %-20s %-12s %-12s %-6s %s\n",
			"ID", "TIME", "START", "STOP", "POINTS", "CAL")
		for _, s := range sweeps {
			fmt.Printf("%-6d %-20s %-12.0f %-12.0f %-6d %v\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04:05"),
				s.StartHz, s.StopHz, s.Points, s.Calibrated)
		}
		return
	}

	id := *sweepID
	if id == 0 {
		id, err = store.LatestSweepID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "No stored sweeps: %v\n", err)
			os.Exit(1)
		}
	}

	res, err := store.GetSweep(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load sweep %d: %v\n", id, err)
		os.Exit(1)
	}

	ts := res.Touchstone()
	if *output == "" {
		fmt.Print(ts)
		return
	}

	if err := os.WriteFile(*output, []byte(ts), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("Exported sweep %d (%d points) to %s\n", id, res.Points, *output)
}
