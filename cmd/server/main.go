package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/revisit-backend/internal/config"
	"github.com/yungbote/revisit-backend/internal/data/analytics"
	"github.com/yungbote/revisit-backend/internal/data/graph"
	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/data/vector"
	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/handlers"
	"github.com/yungbote/revisit-backend/internal/health"
	"github.com/yungbote/revisit-backend/internal/middleware"
	"github.com/yungbote/revisit-backend/internal/platform/chdb"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/platform/neo4jdb"
	"github.com/yungbote/revisit-backend/internal/platform/pgdb"
	"github.com/yungbote/revisit-backend/internal/platform/qdrant"
	"github.com/yungbote/revisit-backend/internal/reminders"
	"github.com/yungbote/revisit-backend/internal/server"
	"github.com/yungbote/revisit-backend/internal/services"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

// Per-store modeled kinds; drift reconciliation only compares kinds a
// store actually writes.
var (
	graphKinds = []domain.Kind{
		domain.KindInstitution, domain.KindDoctor, domain.KindProject,
		domain.KindProduct, domain.KindCustomer, domain.KindConsumption,
	}
	analyticsKinds = []domain.Kind{
		domain.KindInstitution, domain.KindDoctor, domain.KindProject,
		domain.KindProduct, domain.KindCustomer, domain.KindConsumption,
	}
	vectorKinds = []domain.Kind{
		domain.KindProject, domain.KindProduct, domain.KindCustomer,
	}
)

func main() {
	// Logger
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

	// Postgres (authoritative store)
	postgresService, err := pgdb.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	defer postgresService.Close()
	db := postgresService.DB()
	if err := pgdb.AutoMigrateShared(db); err != nil {
		log.Fatal("Postgres migration failed", "error", err)
	}

	// Tenant provisioning
	prov := tenant.NewProvisioner(db, log, tenant.NewCache())
	for _, code := range cfg.TenantCodes() {
		if _, err := prov.Ensure(ctx, code); err != nil {
			log.Fatal("Tenant provisioning failed", "tenant_code", code, "error", err)
		}
	}
	store := primary.NewStore(db, log, prov, cfg.TenantCodes())

	// Secondary adapters: each is optional; a store that fails to connect
	// is left out of the fan-out rather than blocking startup.
	var adapters []syncx.Adapter

	var graphAdapter *graph.Adapter
	if neoClient, err := neo4jdb.NewFromEnv(log); err != nil || neoClient == nil {
		log.Warn("Neo4j unavailable, graph sync disabled", "error", err)
	} else {
		defer neoClient.Close(ctx)
		graphAdapter = graph.NewAdapter(log, neoClient)
		adapters = append(adapters, graphAdapter)
	}

	var analyticsAdapter *analytics.Adapter
	if chClient, err := chdb.NewFromEnv(log); err != nil || chClient == nil {
		log.Warn("ClickHouse unavailable, analytics sync disabled", "error", err)
	} else {
		defer chClient.Close()
		analyticsAdapter = analytics.NewAdapter(log, chClient)
		if err := analyticsAdapter.EnsureSchema(ctx); err != nil {
			log.Fatal("ClickHouse schema init failed", "error", err)
		}
		adapters = append(adapters, analyticsAdapter)
	}

	var vectorAdapter *vector.Adapter
	if qClient, err := qdrant.NewClientFromEnv(log); err != nil || qClient == nil {
		log.Warn("Qdrant unavailable, vector sync disabled", "error", err)
	} else {
		if err := qClient.EnsureCollections(ctx); err != nil {
			log.Fatal("Qdrant collection init failed", "error", err)
		}
		vectorAdapter = vector.NewAdapter(log, qClient)
		adapters = append(adapters, vectorAdapter)
	}

	// Dispatcher
	dispatcher := syncx.NewDispatcher(log, store, adapters,
		syncx.WithBatchConcurrency(cfg.Sync.BatchConcurrency),
		syncx.WithSecondaryTimeout(time.Duration(cfg.Sync.SecondaryTimeoutSeconds)*time.Second),
	)

	// Drift reporting
	reporter := health.NewReporter(log, store, dispatcher)
	if graphAdapter != nil {
		reporter.RegisterCounter(graphAdapter, graphKinds...)
	}
	if analyticsAdapter != nil {
		reporter.RegisterCounter(analyticsAdapter, analyticsKinds...)
		reporter.RegisterOrphanStore(analyticsAdapter)
	}
	if vectorAdapter != nil {
		reporter.RegisterCounter(vectorAdapter, vectorKinds...)
		reporter.RegisterOrphanStore(vectorAdapter)
	}

	// Services
	reminderOpts := []reminders.Option{}
	if analyticsAdapter != nil {
		reminderOpts = append(reminderOpts, reminders.WithFactSink(analyticsAdapter))
	}
	reminderService := reminders.NewService(db, log, prov, store, reminderOpts...)
	authService := services.NewAuthService(db, log, cfg.Auth.JWTSecretKey,
		time.Duration(cfg.Auth.AccessTokenTTLSec)*time.Second)

	// Handlers and router
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:     handlers.NewAuthHandler(authService),
		AuthMiddleware:  middleware.NewAuthMiddleware(log, authService),
		SyncHandler:     handlers.NewSyncHandler(dispatcher),
		TenantHandler:   handlers.NewTenantHandler(prov, reporter),
		ReminderHandler: handlers.NewReminderHandler(reminderService, store, cfg.Reminders.DaysAhead),
	})

	log.Info("Server listening", "port", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
