package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/dispatch"
)

// runReportCommand builds and delivers the report for one day:
//
//	presence report [--date YYYY-MM-DD] [--out DIR]
//
// Without --out the configured delivery (SMTP or report.out_dir) is used.
func runReportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	date := fs.String("date", "", "Report date YYYY-MM-DD (default today in the report timezone)")
	out := fs.String("out", "", "Write the report to this directory instead of emailing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	agg, renderer, notifier, err := newReportPipeline(cfg, store, *out)
	if err != nil {
		return err
	}

	day := time.Now().In(agg.Location())
	if *date != "" {
		if day, err = agg.ParseDate(*date); err != nil {
			return err
		}
	}

	d := dispatch.New(dispatch.Config{
		Location:    agg.Location(),
		RunTimeout:  cfg.GetRunTimeout(),
		AttachChart: cfg.GetAttachChart(),
	}, agg, renderer, notifier, store, nil)
	run, err := d.RunOnce(context.Background(), day, dispatch.TriggerManual)
	if err != nil {
		return err
	}
	fmt.Printf("report %s for %s delivered (%s)\n", run.ID, run.Date, run.Source)
	return nil
}
