package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mirrorhub/internal/checker"
	"mirrorhub/internal/config"
	"mirrorhub/internal/live"
	"mirrorhub/internal/logger"
	"mirrorhub/pkg/database"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	cronSpec := flag.String("cron", "", "cron schedule, overrides config; empty runs once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(*verbose, "")
	defer logger.Sync()

	dbCfg := database.DefaultConfig()
	if cfg.Database.Path != "" {
		dbCfg.Path = cfg.Database.Path
	}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	spec := cfg.Checker.Cron
	if *cronSpec != "" {
		spec = *cronSpec
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := runOnce(ctx, db, cfg); err != nil {
			logger.Log.Errorw("check run failed", "error", err)
		}
	}

	if spec == "" {
		run()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, run); err != nil {
		log.Fatalf("invalid cron spec %q: %v", spec, err)
	}
	logger.Log.Infow("checker scheduled", "cron", spec)
	c.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Log.Infow("stopping scheduler")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	runID := uuid.NewString()
	start := time.Now()

	urls, err := checker.ActiveURLs(ctx, db)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		logger.Log.Infow("no active urls to check", "run_id", runID)
		return nil
	}

	locID, err := checker.ResolveLocation(ctx, db, cfg.Checker)
	if err != nil {
		return err
	}

	results := checker.CheckAll(ctx, urls, checker.Options{
		Timeout: cfg.Checker.Timeout.Std(),
		Workers: cfg.Checker.Workers,
		RunID:   runID,
	})
	if err := checker.InsertLogs(ctx, db, results, locID); err != nil {
		return err
	}

	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	logger.Log.Infow("check run complete",
		"run_id", runID, "urls", len(urls), "checked", len(results),
		"succeeded", success, "elapsed", time.Since(start).Round(time.Millisecond).String())

	// nudge the server so dashboards refresh without waiting a poll cycle
	if cfg.Checker.NotifyAddr != "" {
		if err := live.Notify(cfg.Checker.NotifyAddr, live.ChecksDoneMessage{
			RunID: runID,
			Count: len(results),
		}); err != nil {
			logger.Log.Warnw("notify failed", "addr", cfg.Checker.NotifyAddr, "error", err)
		}
	}
	return nil
}
