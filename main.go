package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "supplier-core/internal/api/http"
	"supplier-core/internal/audit"
	"supplier-core/internal/brs"
	"supplier-core/internal/cim"
	"supplier-core/internal/datahub"
	"supplier-core/internal/logging"
	masterdatarepo "supplier-core/internal/masterdata/infrastructure/postgres"
	"supplier-core/internal/messaging"
	messagingrepo "supplier-core/internal/messaging/infrastructure/postgres"
	"supplier-core/internal/observability/metrics"
	procapp "supplier-core/internal/processes/application"
	processrepo "supplier-core/internal/processes/infrastructure/postgres"
	"supplier-core/internal/scheduler"
	settlementapp "supplier-core/internal/settlement/application"
	settlement "supplier-core/internal/settlement/domain"
	settlementrepo "supplier-core/internal/settlement/infrastructure/postgres"
	settlementinterfaces "supplier-core/internal/settlement/interfaces"
)

const serviceName = "supplier-core"

type appConfig struct {
	HTTPAddr          string
	DatabaseURL       string
	LogLevel          string
	LogFormat         string
	MarketConfigPath  string
	SchedulerInterval time.Duration
	SchedulerBatch    int
	OutboxMaxAttempts int
	InboxMaxAttempts  int
	CorrectionMode    string
	DefaultProductID  string
	ShutdownTimeout   time.Duration
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := logging.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	market, err := datahub.LoadConfig(cfg.MarketConfigPath)
	if err != nil {
		logger.Fatal("market config error", zap.Error(err))
	}
	if secret := os.Getenv("DATAHUB_CLIENT_SECRET"); secret != "" {
		market.DataHub.ClientSecret = secret
	}
	if cfg.CorrectionMode == "" {
		cfg.CorrectionMode = market.Settlement.CorrectionMode
	}
	correctionMode, ok := settlement.ParseCorrectionMode(cfg.CorrectionMode)
	if !ok {
		logger.Fatal("unknown settlement correction mode", zap.String("mode", cfg.CorrectionMode))
	}
	if market.Scheduler.Interval > 0 && os.Getenv("SCHEDULER_INTERVAL") == "" {
		cfg.SchedulerInterval = market.Scheduler.Interval
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, logger, cfg.InboxMaxAttempts)
	auditRepo := audit.NewRepository(db)

	meteringPoints := masterdatarepo.NewMeteringPointRepository(db)
	customers := masterdatarepo.NewCustomerRepository(db)
	supplies := masterdatarepo.NewSupplyRepository(db)
	prices := masterdatarepo.NewPriceRepository(db)
	priceLinks := masterdatarepo.NewPriceLinkRepository(db)
	products := masterdatarepo.NewProductRepository(db)
	spotPrices := masterdatarepo.NewSpotPriceRepository(db)
	timeSeries := masterdatarepo.NewTimeSeriesRepository(db)

	processService, err := procapp.NewService(processrepo.NewProcessRepository(db), logger)
	if err != nil {
		logger.Fatal("process service error", zap.Error(err))
	}

	inbox := messagingrepo.NewInboxStore(db)
	outbox := messagingrepo.NewOutboxStore(db)

	handlers, err := brs.NewHandlers(processService, brs.Stores{
		MeteringPoints: meteringPoints,
		Customers:      customers,
		Supplies:       supplies,
		Prices:         prices,
		PriceLinks:     priceLinks,
		TimeSeries:     timeSeries,
	}, logger, brs.WithDefaultProduct(cfg.DefaultProductID))
	if err != nil {
		logger.Fatal("brs handlers error", zap.Error(err))
	}
	registry := messaging.NewHandlerRegistry()
	if err := handlers.Register(registry); err != nil {
		logger.Fatal("register brs handlers error", zap.Error(err))
	}
	router, err := messaging.NewRouter(inbox, registry, logger, messaging.WithInboxMaxAttempts(cfg.InboxMaxAttempts))
	if err != nil {
		logger.Fatal("inbox router error", zap.Error(err))
	}
	receiver, err := messaging.NewReceiver(inbox, logger)
	if err != nil {
		logger.Fatal("inbox receiver error", zap.Error(err))
	}

	client := datahub.NewClient(market.DataHub, logger)
	if client.Simulated() {
		logger.Warn("no datahub endpoint configured, running in simulation mode")
	}
	puller, err := messaging.NewPuller(client, receiver, logger)
	if err != nil {
		logger.Fatal("puller error", zap.Error(err))
	}
	delivery, err := brs.NewDelivery(processService, logger)
	if err != nil {
		logger.Fatal("delivery callbacks error", zap.Error(err))
	}
	dispatcher, err := messaging.NewOutboxDispatcher(outbox, client, logger,
		messaging.WithOutboxMaxAttempts(cfg.OutboxMaxAttempts),
		messaging.WithDeliveryCallbacks(delivery),
	)
	if err != nil {
		logger.Fatal("outbox dispatcher error", zap.Error(err))
	}
	initiator, err := brs.NewInitiator(processService, customers, outbox, market.SupplierGLN, market.DataHubGLN, logger, cim.NewBuilder())
	if err != nil {
		logger.Fatal("initiator error", zap.Error(err))
	}

	settlements := settlementrepo.NewSettlementRepository(db)
	calculator, err := settlementapp.NewCalculator(settlementapp.PriceSources{
		Prices:     prices,
		PriceLinks: priceLinks,
		Products:   products,
		SpotPrices: spotPrices,
	})
	if err != nil {
		logger.Fatal("settlement calculator error", zap.Error(err))
	}
	engine, err := settlementapp.NewEngine(calculator, settlements, settlementapp.EngineStores{
		TimeSeries:     timeSeries,
		Supplies:       supplies,
		MeteringPoints: meteringPoints,
	}, logger, settlementapp.WithCorrectionMode(correctionMode))
	if err != nil {
		logger.Fatal("settlement engine error", zap.Error(err))
	}
	documents, err := settlementapp.NewDocumentService(settlements, logger)
	if err != nil {
		logger.Fatal("settlement document service error", zap.Error(err))
	}

	sched, err := scheduler.New(scheduler.Steps{
		Puller:    puller,
		Inbox:     router,
		Outbox:    dispatcher,
		Processes: processService,
		Settler:   engine,
	}, scheduler.Config{
		Interval:        cfg.SchedulerInterval,
		BatchSize:       cfg.SchedulerBatch,
		PullLimit:       market.Scheduler.PullLimit,
		InboxBatch:      market.Scheduler.InboxBatch,
		OutboxBatch:     market.Scheduler.OutboxBatch,
		SettlementBatch: market.Scheduler.SettlementBatch,
	}, logger)
	if err != nil {
		logger.Fatal("scheduler error", zap.Error(err))
	}

	documentHandler, err := settlementinterfaces.NewDocumentHandler(documents, auditRepo, logger)
	if err != nil {
		logger.Fatal("settlement document handler error", zap.Error(err))
	}
	processHandler, err := apihttp.NewProcessHandler(initiator, processService, auditRepo, logger)
	if err != nil {
		logger.Fatal("process handler error", zap.Error(err))
	}
	messageHandler, err := apihttp.NewMessageHandler(router, dispatcher, auditRepo, logger)
	if err != nil {
		logger.Fatal("message handler error", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/settlement-documents", documentHandler)
	mux.Handle("/api/v1/settlement-documents/", documentHandler)
	mux.Handle("/api/v1/processes", processHandler)
	mux.Handle("/api/v1/processes/", processHandler)
	mux.Handle("/api/v1/inbox", messageHandler)
	mux.Handle("/api/v1/inbox/", messageHandler)
	mux.Handle("/api/v1/outbox/", messageHandler)
	mux.Handle("/healthz", apihttp.NewHealthHandler(db))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.AccessLog(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return sched.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

func loadConfig() appConfig {
	cfg := appConfig{
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("PG_DSN"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("LOG_FORMAT", "json"),
		MarketConfigPath:  os.Getenv("MARKET_CONFIG"),
		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", 30*time.Second),
		SchedulerBatch:    getenvIntDefault("SCHEDULER_BATCH", 100),
		OutboxMaxAttempts: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", 10),
		InboxMaxAttempts:  getenvIntDefault("INBOX_MAX_ATTEMPTS", 5),
		CorrectionMode:    os.Getenv("SETTLEMENT_CORRECTION_MODE"),
		DefaultProductID:  os.Getenv("DEFAULT_PRODUCT_ID"),
		ShutdownTimeout:   getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
