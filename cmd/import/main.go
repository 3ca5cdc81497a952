// Command import loads JSON feed files into every store.
//
//	import -mode initial -dir data/import/initial
//	import -mode incremental -dir data/import/incremental
//	import -mode incremental -dir data/import/incremental -date 2026-01-14
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/revisit-backend/internal/config"
	"github.com/yungbote/revisit-backend/internal/data/analytics"
	"github.com/yungbote/revisit-backend/internal/data/graph"
	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/data/vector"
	"github.com/yungbote/revisit-backend/internal/feed"
	"github.com/yungbote/revisit-backend/internal/platform/chdb"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/platform/neo4jdb"
	"github.com/yungbote/revisit-backend/internal/platform/pgdb"
	"github.com/yungbote/revisit-backend/internal/platform/qdrant"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

func main() {
	mode := flag.String("mode", "initial", "initial or incremental")
	dir := flag.String("dir", "data/import/initial", "feed directory")
	date := flag.String("date", "", "incremental batch date (YYYY-MM-DD), empty for all pending")
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load("config.yaml", log)
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	ctx := context.Background()

	postgresService, err := pgdb.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	defer postgresService.Close()
	db := postgresService.DB()
	if err := pgdb.AutoMigrateShared(db); err != nil {
		log.Fatal("Postgres migration failed", "error", err)
	}

	prov := tenant.NewProvisioner(db, log, tenant.NewCache())
	store := primary.NewStore(db, log, prov, cfg.TenantCodes())

	var adapters []syncx.Adapter
	if neoClient, err := neo4jdb.NewFromEnv(log); err != nil || neoClient == nil {
		log.Warn("Neo4j unavailable, graph sync disabled", "error", err)
	} else {
		defer neoClient.Close(ctx)
		adapters = append(adapters, graph.NewAdapter(log, neoClient))
	}
	if chClient, err := chdb.NewFromEnv(log); err != nil || chClient == nil {
		log.Warn("ClickHouse unavailable, analytics sync disabled", "error", err)
	} else {
		defer chClient.Close()
		analyticsAdapter := analytics.NewAdapter(log, chClient)
		if err := analyticsAdapter.EnsureSchema(ctx); err != nil {
			log.Fatal("ClickHouse schema init failed", "error", err)
		}
		adapters = append(adapters, analyticsAdapter)
	}
	if qClient, err := qdrant.NewClientFromEnv(log); err != nil || qClient == nil {
		log.Warn("Qdrant unavailable, vector sync disabled", "error", err)
	} else {
		if err := qClient.EnsureCollections(ctx); err != nil {
			log.Fatal("Qdrant collection init failed", "error", err)
		}
		adapters = append(adapters, vector.NewAdapter(log, qClient))
	}

	dispatcher := syncx.NewDispatcher(log, store, adapters,
		syncx.WithBatchConcurrency(cfg.Sync.BatchConcurrency),
		syncx.WithSecondaryTimeout(time.Duration(cfg.Sync.SecondaryTimeoutSeconds)*time.Second),
	)
	runner := feed.NewRunner(log, dispatcher)

	var report *feed.Report
	switch *mode {
	case "initial":
		report, err = runner.ImportBatch(ctx, *dir)
	case "incremental":
		pending := filepath.Join(*dir, "pending")
		processed := filepath.Join(*dir, "processed")
		report, err = runner.ProcessIncremental(ctx, pending, processed, *date)
	default:
		log.Fatal("Unknown mode", "mode", *mode)
	}
	if err != nil {
		log.Fatal("Import failed", "mode", *mode, "error", err)
	}

	totals := report.Totals()
	fmt.Printf("files=%d total=%d succeeded=%d failed=%d secondary_failures=%d\n",
		len(report.Files), totals.Total, totals.Succeeded, totals.Failed, totals.SecondaryFailures)
	if totals.Failed > 0 {
		os.Exit(1)
	}
}
