// README: Entry point; loads config, wires services, starts the HTTP server and the dispute resolver.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dropchain/internal/config"
	httptransport "dropchain/internal/http"
	"dropchain/internal/http/handlers"
	"dropchain/internal/infra"
	"dropchain/internal/log"
	"dropchain/internal/metrics"
	"dropchain/internal/modules/arbitration"
	"dropchain/internal/modules/ledger"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/matching"
	"dropchain/internal/modules/notify"
	"dropchain/internal/modules/order"
	"dropchain/internal/modules/pricing"
	"dropchain/internal/modules/roles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.L(context.Background()).Fatal(err)
	}
	log.InitConfig(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.L(ctx).Fatal("DROPCHAIN_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.L(ctx).Fatalf("firebase init: %v", err)
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		log.L(ctx).Fatalf("firebase auth: %v", err)
	}
	fcm, err := infra.NewMessaging(ctx, app)
	if err != nil {
		log.L(ctx).Fatalf("firebase messaging: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	ledgerClient := ledger.NewRPCClient(cfg.Ledger.URL, m)

	var (
		orderStore   order.Projection
		disputeStore arbitration.Store
		roleProvider order.RoleProvider
		rateSource   pricing.RateSource
		availability handlers.Availability
	)
	switch cfg.Store.Driver {
	case "postgres":
		if err := infra.Migrate(ctx, cfg.DB.DSN); err != nil {
			log.L(ctx).Fatal(err)
		}
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.L(ctx).Fatal(err)
		}
		defer dbPool.Close()
		orderStore = order.NewStore(dbPool)
		disputeStore = arbitration.NewPGStore(dbPool)
		offchain := roles.NewOffchain(dbPool, redisClient)
		roleProvider = offchain
		availability = offchain
		rateSource = pricing.NewStore(dbPool)
	default:
		log.L(ctx).Warn("memory store selected; projections are lost on restart")
		orderStore = order.NewMemoryStore()
		disputeStore = arbitration.NewMemoryStore()
		roleProvider = roles.NewOnchain(ledgerClient, cfg.Ledger.Timeout)
	}

	locationSvc := location.NewService(location.NewStore(redisClient))

	orderSvc := order.NewService(order.Deps{
		Store:         orderStore,
		Ledger:        ledgerClient,
		Roles:         roleProvider,
		Notifier:      notify.Multi{notify.NewRedis(redisClient), notify.NewFCM(fcm)},
		Tracker:       locationSvc,
		Metrics:       m,
		LedgerTimeout: cfg.Ledger.Timeout,
	})

	engine := arbitration.NewEngine(arbitration.Deps{
		Store:   disputeStore,
		Ledger:  ledgerClient,
		Power:   ledgerClient,
		Orders:  orderSvc,
		Metrics: m,
		Config: arbitration.Config{
			QuorumThreshold:     cfg.Arbitration.QuorumThreshold,
			ClientRefundPercent: cfg.Arbitration.ClientRefundPercent,
			AutoResolve:         cfg.Arbitration.AutoResolve,
			ResolverTick:        time.Duration(cfg.Arbitration.ResolverTickSeconds) * time.Second,
			LedgerTimeout:       cfg.Ledger.Timeout,
		},
	})

	matchingSvc := matching.NewService(locationSvc, orderSvc, matching.NewStore(redisClient))

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.ServerDeps{
		Order:           orderSvc,
		Arbitration:     engine,
		Pricing:         pricing.NewService(rateSource),
		Location:        locationSvc,
		Matching:        matchingSvc,
		Availability:    availability,
		Verifier:        verifier,
		Gatherer:        prometheus.DefaultGatherer,
		QuorumThreshold: cfg.Arbitration.QuorumThreshold,
	})

	go engine.RunResolver(ctx)

	if err := server.Run(ctx); err != nil {
		log.L(ctx).Fatal(err)
	}
	log.L(ctx).Info("shutdown complete")
}
