// Command femasgate runs the Femas trading and market-data sessions behind a
// REST and WebSocket gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/femasgate/internal/alerts"
	"github.com/ajitpratap0/femasgate/internal/api"
	"github.com/ajitpratap0/femasgate/internal/audit"
	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/journal"
	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/metrics"
	"github.com/ajitpratap0/femasgate/internal/session"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

// errNativeUnavailable is returned when simulate is off. This build links no
// native vendor library.
var errNativeUnavailable = errors.New("native Femas binding is not linked into this build; set femas.simulate=true")

func main() {
	configPath := flag.String("config", "", "Path to the config file (default ./configs/config.yaml)")
	skipChecks := flag.Bool("skip-checks", false, "Skip database and Redis connectivity checks at startup")
	flag.Parse()

	if err := run(*configPath, *skipChecks); err != nil {
		log.Error().Err(err).Msg("femasgate exited with error")
		os.Exit(1)
	}
}

func run(configPath string, skipChecks bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Bool("simulate", cfg.Femas.Simulate).
		Msg("Starting femasgate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		return err
	}
	if cfg.App.Environment == "production" {
		if errs := config.ValidateProductionSecrets(cfg); len(errs) > 0 {
			return errs
		}
	}

	opts := config.DefaultValidatorOptions()
	opts.VerifyConnectivity = !skipChecks
	if err := config.NewValidator(cfg, opts).ValidateStartup(ctx); err != nil {
		return err
	}

	traderFactory, marketFactory, err := vendorFactories(cfg)
	if err != nil {
		return err
	}
	decoder, err := femas.NewDecoder(cfg.Femas.Encoding)
	if err != nil {
		return err
	}
	bridgeOpts := bridge.Options{
		CallbackConcurrency: int64(cfg.Bridge.CallbackConcurrency),
		CallbackTimeout:     cfg.Bridge.CallbackTimeout,
		Decoder:             decoder,
	}
	// Both bridges draw from one request id sequence.
	ids := bridge.NewRequestIDs()
	traderBridge := bridge.NewTraderBridge(traderFactory, ids, bridgeOpts)
	marketBridge := bridge.NewMarketBridge(marketFactory, ids, bridgeOpts)

	// Event push
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := api.NewHub(cfg.API.AllowedOrigins)
	sessions := session.New(session.ConfigFrom(cfg), session.WithListener(hub))
	hub.UseSessions(sessions)
	go hub.Run(hubCtx)
	go sessions.Run(hubCtx)

	fanout := events.NewFanout()
	fanout.Add("websocket", hub)
	if cfg.NATS.Enabled {
		pub, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix})
		if err != nil {
			return err
		}
		defer pub.Close()
		fanout.Add("nats", pub)
	}
	if cfg.Alerts.Enabled {
		sink, err := alertSink(cfg.Alerts)
		if err != nil {
			return err
		}
		go sink.Run(hubCtx)
		fanout.Add("alerts", sink)
	}

	tradingOpts := []trading.Option{trading.WithPublisher(fanout)}
	marketOpts := []market.Option{market.WithPublisher(fanout)}
	apiOpts := []api.Option{api.WithHub(hub), api.WithSessions(sessions)}

	// Trade journal and audit trail
	var auditDB audit.DB
	if cfg.Database.Enabled {
		store, err := journal.Open(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		updater := metrics.NewUpdater(store, 30*time.Second)
		go updater.Start(ctx)
		defer updater.Stop()

		tradingOpts = append(tradingOpts, trading.WithJournal(store))
		apiOpts = append(apiOpts, api.WithJournal(store))
		auditDB = store.DB()

		keys := api.NewAPIKeyStore(store.DB())
		if err := keys.Migrate(ctx); err != nil {
			return err
		}
		defer keys.Close()
		if cfg.API.Auth.Enabled {
			apiOpts = append(apiOpts, api.WithAPIKeys(keys, cfg.API.Auth))
		}
	}
	if cfg.API.Audit {
		auditLog := audit.NewLogger(auditDB, true)
		if err := auditLog.Migrate(ctx); err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithAudit(auditLog))
	}

	// Snapshot mirror
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rm := metrics.NewRedisMetrics(client)
		if err := rm.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, snapshots will be mirrored once it recovers")
		}
		marketOpts = append(marketOpts, market.WithRedis(market.NewRedisSnapshotCache(rm, cfg.Redis.TTL)))
	}

	tradingSvc := trading.New(trading.ConfigFrom(cfg), traderBridge, tradingOpts...)
	marketSvc := market.New(market.ConfigFrom(cfg), marketBridge, marketOpts...)
	if err := tradingSvc.Start(); err != nil {
		return err
	}
	if err := marketSvc.Start(); err != nil {
		_ = tradingSvc.Stop(context.Background())
		return err
	}

	server := api.NewServer(api.ConfigFrom(cfg), tradingSvc, marketSvc, apiOpts...)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics && cfg.Monitoring.PrometheusPort != cfg.API.Port {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, cfg.App.Version, func() error {
			if !tradingSvc.Status().Connected {
				return trading.ErrNotConnected
			}
			return nil
		}, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = err
		log.Error().Err(err).Msg("API server error")
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	return errors.Join(runErr, shutdown(server, metricsServer, marketSvc, tradingSvc))
}

// vendorFactories returns the simulator factories, or errNativeUnavailable.
func vendorFactories(cfg *config.Config) (femas.TraderAPIFactory, femas.MarketAPIFactory, error) {
	if !cfg.Femas.Simulate {
		return nil, nil, errNativeUnavailable
	}

	sim := femas.DefaultSimOptions()
	s := cfg.Femas.Simulator
	if s.ConnectDelay > 0 {
		sim.ConnectDelay = s.ConnectDelay
	}
	if s.ResponseDelay > 0 {
		sim.ResponseDelay = s.ResponseDelay
	}
	if s.LoginFrames > 0 {
		sim.LoginFrames = s.LoginFrames
	}
	if s.TickInterval > 0 {
		sim.TickInterval = s.TickInterval
	}
	if s.InitialBalance > 0 {
		sim.InitialBalance = s.InitialBalance
	}
	sim.Seed = s.Seed
	sim.Password = cfg.Femas.Password
	sim.AuthCode = cfg.Femas.AuthCode
	if cfg.Femas.Encoding != "" {
		sim.Encoding = cfg.Femas.Encoding
	}

	log.Warn().Msg("Using the in-process Femas simulator")
	return femas.NewSimTraderFactory(sim), femas.NewSimMarketFactory(sim), nil
}

// alertSink builds the operator alert sink. Alerts are always logged and also
// sent to Telegram when configured.
func alertSink(cfg config.AlertsConfig) (*alerts.Sink, error) {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Telegram.Enabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to create Telegram alerter: %w", err)
		}
		alerters = append(alerters, tg)
	}
	return alerts.NewSink(alerts.NewManager(alerters...), cfg.Interval, cfg.Burst), nil
}

func shutdown(server *api.Server, metricsServer *metrics.Server, md *market.Service, tr *trading.Service) error {
	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := md.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("market: %w", err))
	}
	if err := tr.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trading: %w", err))
	}

	if len(errs) == 0 {
		log.Info().Msg("femasgate stopped")
	}
	return errors.Join(errs...)
}
