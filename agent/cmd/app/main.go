package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/analytics"
	"fomo-relay/agent/internal/bot"
	"fomo-relay/agent/internal/handlers"
	"fomo-relay/agent/internal/hub"
	"fomo-relay/agent/internal/services"
	"fomo-relay/shared/config"
	"fomo-relay/shared/env"
	"fomo-relay/shared/logger"
	"fomo-relay/shared/notifications"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

func startHeartbeat(ctx context.Context, appLogger *logger.Logger, retry *services.RetryQueue) {
	go func() {
		ticker := time.NewTicker(8 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				appLogger.Info("Heartbeat: Program running...", zap.Int("pendingRetries", retry.Len()))
			}
		}
	}()
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Panicf("FATAL PANIC RECOVERY: %v", r)
		}
	}()

	if err := env.LoadEnv(); err != nil {
		log.Fatalf("FATAL: Failed to load environment variables: %v", err)
	}
	log.Println("INFO: Environment variables loaded via shared/env.")

	cfg, err := config.LoadConfig("agent/config.yaml")
	if err != nil {
		log.Fatalf("FATAL: Failed to load agent/config.yaml: %v", err)
	}

	appLogger, err := logger.NewLogger(logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Application logger initialized successfully.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Connecting to database...")
	dsn := env.DatabaseDSN()
	if err := database.MigrateDatabase(dsn, appLogger); err != nil {
		appLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	db, err := database.ConnectToDatabase(dsn)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	appLogger.Info("Database connected and migrated.")

	notificationStore := database.NewNotificationStore(db)
	tokenCacheStore := database.NewTokenCacheStore(db)
	knownTokenStore := database.NewKnownTokenStore(db)
	userStore := database.NewUserStore(db)
	traderStore := database.NewTraderStore(db)

	// Outbound transport. Without a bot token alerts are still stored, but
	// ingestion answers 503 and no command listener runs.
	var (
		tgBot     *telego.Bot
		messenger *notifications.TelegramMessenger
	)
	if env.TelegramBotToken != "" {
		appLogger.Info("Initializing Telegram bot...")
		tgBot, err = notifications.NewTelegramBot(env.TelegramBotToken)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
		}
		verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		username, err := notifications.VerifyBot(verifyCtx, tgBot)
		cancel()
		if err != nil {
			appLogger.Fatal("Telegram bot verification failed", zap.Error(err))
		}
		appLogger.Info("Telegram bot authorized", zap.String("username", username))

		messenger = notifications.NewTelegramMessenger(tgBot, notifications.TelegramConfig{
			RatePerSecond: cfg.Telegram.RatePerSecond,
			Burst:         cfg.Telegram.Burst,
			MaxAttempts:   cfg.Telegram.MaxAttempts,
		}, appLogger)

		if env.TelegramOpsChatID != 0 && cfg.Telegram.ForwardLogs {
			forwarder := notifications.NewOpsForwarder(tgBot, env.TelegramOpsChatID, appLogger)
			go forwarder.Run(ctx)
			appLogger.SetForwarder(forwarder)
			appLogger.Info("Warn and error logs forwarded to ops chat", zap.Int64("chatID", env.TelegramOpsChatID))
		}
	} else {
		appLogger.Warn("TELEGRAM_BOT_TOKEN not set. Alerts will be stored but not delivered.")
	}

	appLogger.Info("Starting dashboard hub...")
	dashboardHub := hub.New(appLogger)
	go dashboardHub.Run(ctx)

	broadcaster := services.MultiBroadcaster{dashboardHub}
	mirror, err := notifications.NewDiscordMirror(env.DiscordBotToken, env.DiscordChannelID, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize Discord mirror, continuing without it", zap.Error(err))
	} else if mirror != nil {
		go mirror.Run(ctx)
		broadcaster = append(broadcaster, hub.NewMirrorBroadcaster(mirror))
	}

	var (
		recorder services.AttemptRecorder
		stats    handlers.StageStatsReader
	)
	if env.ClickHouseDSN != "" {
		appLogger.Info("Connecting to ClickHouse for resolution analytics...")
		sink, err := openAnalytics(ctx, env.ClickHouseDSN)
		if err != nil {
			appLogger.Error("ClickHouse unavailable, resolution analytics disabled", zap.Error(err))
		} else {
			rec := analytics.NewRecorder(sink, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, appLogger)
			go rec.Run(ctx)
			recorder = rec
			stats = sink
		}
	}

	appLogger.Info("Initializing resolution pipeline...")
	filter := services.DefaultCandidateFilter()
	filter.AllowedChains = cfg.DexScreener.AllowedChains
	filter.MinLiquidityRatio = cfg.DexScreener.MinLiquidityRatio
	filter.MaxLiquidityRatio = cfg.DexScreener.MaxLiquidityRatio
	filter.MinLiquidityUSD = cfg.DexScreener.MinLiquidityUSD

	dexScreener := services.NewDexScreenerClient(services.DexScreenerConfig{
		BaseURL:       cfg.DexScreener.BaseURL,
		Timeout:       cfg.DexScreener.Timeout,
		RatePerSecond: cfg.DexScreener.RatePerSecond,
		Burst:         cfg.DexScreener.Burst,
	}, appLogger)

	rpcURL := cfg.Helius.RPCURL
	if env.HeliusRPCURL != "" {
		rpcURL = env.HeliusRPCURL
	}
	heliusScanner := services.NewHeliusScanner(services.HeliusConfig{
		APIBaseURL:       cfg.Helius.APIBaseURL,
		APIKey:           env.HeliusAPIKey,
		RPCURL:           rpcURL,
		AggregatorWallet: cfg.Helius.AggregatorWallet,
		TxLimit:          cfg.Helius.TxLimit,
		Timeout:          cfg.Helius.Timeout,
		RatePerSecond:    cfg.Helius.RatePerSecond,
		ExcludedMints:    cfg.Helius.ExcludedMints,
	}, appLogger)
	var scanner services.ChainScanner
	if heliusScanner.Enabled() {
		scanner = heliusScanner
	} else {
		appLogger.Warn("Helius scanner disabled (HELIUS_API_KEY not set). Only the aggregator is used.")
	}

	tokenCache := services.NewTokenCache(tokenCacheStore, appLogger,
		services.WithCacheTTL(cfg.Cache.TTL),
		services.WithSweepInterval(cfg.Cache.SweepInterval),
	)
	go tokenCache.RunSweeper(ctx)

	knownTokenCache := services.NewKnownTokenCache(knownTokenStore, appLogger)
	knownTokens := services.NewKnownTokenService(knownTokenStore, knownTokenCache, appLogger)

	resolver := services.NewResolver(services.ResolverConfig{
		Cache:      tokenCache,
		Aggregator: dexScreener,
		Candidates: services.NewCandidateResolver(filter),
		Scanner:    scanner,
		Order:      services.ParseResolutionOrder(cfg.Resolution.Order),
		Recorder:   recorder,
	}, appLogger)

	// Interface values stay nil when the transport is missing.
	var (
		outbound services.Messenger
		replier  bot.Replier
	)
	if messenger != nil {
		outbound = messenger
		replier = messenger
	}

	subscriptions := services.NewSubscriptionService(userStore, traderStore, outbound, broadcaster, appLogger)

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Notifications: notificationStore,
		Subscriptions: subscriptions,
		KnownTokens:   knownTokenCache,
		Resolver:      resolver,
		Messenger:     outbound,
		Broadcaster:   broadcaster,
		Retry: services.RetryConfig{
			MaxRetries:   cfg.Retry.MaxRetries,
			Delay:        cfg.Retry.Delay,
			PollInterval: cfg.Retry.PollInterval,
		},
	}, appLogger)
	go dispatcher.RetryQueue().Run(ctx)
	appLogger.Info("Resolution pipeline ready.", zap.String("order", cfg.Resolution.Order))

	appLogger.Info("Setting up web server...")
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Dashboard.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))
	appLogger.Info("CORS middleware configured.")

	deps := handlers.Deps{
		Dispatcher:    dispatcher,
		Notifications: notificationStore,
		KnownTokens:   knownTokens,
		TokenCache:    tokenCache,
		Subscriptions: subscriptions,
		RetryQueue:    dispatcher.RetryQueue(),
		Scanner:       heliusScanner,
		Stats:         stats,
		Hub:           dashboardHub,
		RecentLimit:   cfg.Dashboard.RecentLimit,
	}
	handlers.RegisterRoutes(router, deps, appLogger)
	appLogger.Info("Web server and API routes registered.")

	port := cfg.App.Port
	if env.Port != "" {
		port = env.Port
	}
	go func() {
		serverAddr := ":" + port
		appLogger.Info("Starting web server", zap.String("address", serverAddr))
		if err := router.Run(serverAddr); err != nil {
			appLogger.Fatal("Could not start web server.", zap.Error(err))
		}
	}()

	appLogger.Info("Starting heartbeat monitor.")
	startHeartbeat(ctx, appLogger, dispatcher.RetryQueue())

	if tgBot != nil {
		appLogger.Info("Starting Telegram Bot message listener...")
		commandBot := bot.New(bot.Config{
			Telegram:       tgBot,
			Subscriptions:  subscriptions,
			Activity:       notificationStore,
			Replier:        replier,
			ProjectTokenCA: cfg.Telegram.ProjectTokenCA,
		}, appLogger)
		go commandBot.StartListening(ctx)
	} else {
		appLogger.Warn("Telegram Bot listener not started because no bot token is configured.")
	}

	appLogger.Info("Application startup complete. Waiting for events...")
	<-ctx.Done()
	appLogger.Info("Shutdown signal received. Exiting.", zap.Int("pendingRetries", dispatcher.RetryQueue().Len()))
}

func openAnalytics(ctx context.Context, dsn string) (*analytics.ClickHouseSink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := analytics.Conn(connectCtx, dsn)
	if err != nil {
		return nil, err
	}
	return analytics.NewClickHouseSink(connectCtx, conn)
}
