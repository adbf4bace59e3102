package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"offramp-engine/internal/config"
	"offramp-engine/internal/handler"
	"offramp-engine/internal/locker"
	"offramp-engine/internal/provider/banklookup"
	"offramp-engine/internal/provider/custody"
	"offramp-engine/internal/provider/payout"
	"offramp-engine/internal/provider/rates"
	"offramp-engine/internal/provider/transport"
	"offramp-engine/internal/pub"
	"offramp-engine/internal/repository"
	"offramp-engine/internal/router"
	"offramp-engine/internal/session"
	"offramp-engine/internal/sub"
	"offramp-engine/internal/usecase/engine"
	"offramp-engine/internal/usecase/ledger"
	"offramp-engine/internal/usecase/reconciler"
	"offramp-engine/internal/usecase/withdrawal"
	"offramp-engine/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server owns every long-lived component: the HTTP surface, the deposit
// subscriber and the background workers.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool *pgxpool.Pool
	rdb  *redis.Client
	http *http.Server

	depositSub *sub.DepositSubscriber
	sweeper    *worker.SweepWorker
	reconcile  *worker.ReconcileWorker
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	pool, err := config.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	userRepo := repository.NewUserRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	txRepo := repository.NewTransactionRepository(pool)
	bankRepo := repository.NewBankAccountRepository(pool)

	sessions := session.NewStore(rdb)
	locks := locker.New()

	oracle := rates.NewClient(cfg.RateOracle)
	lookup := banklookup.NewClient(cfg.BankLookup)
	rail := payout.NewClient(cfg.PayoutRail)
	wallets := custody.NewClient(cfg.Custody)
	notifier := transport.NewClient(cfg.Transport, logger)
	events := pub.NewPublisher(rdb, logger)

	ledgerSvc := ledger.NewService(ledgerRepo, cfg.SupportedAssets, cfg.ReservationTTL, logger)

	orchestrator := withdrawal.NewOrchestrator(
		locks, sessions, ledgerSvc, txRepo, bankRepo,
		oracle, lookup, rail,
		withdrawal.Config{
			FiatCurrency:   cfg.FiatCurrency,
			QuoteTTL:       cfg.QuoteTTL,
			ReservationTTL: cfg.ReservationTTL,
			PayoutSLA:      cfg.PayoutSLA,
		},
		logger,
	)

	eng := engine.New(locks, sessions, userRepo, wallets, ledgerSvc, orchestrator,
		engine.NewRedisReplyCache(rdb, logger), logger)

	settlements := reconciler.New(
		locks, ledgerSvc, txRepo, userRepo, sessions, rail, notifier, events,
		reconciler.Config{
			RequiredConfirmations: cfg.RequiredConfirmations,
			PayoutSLA:             cfg.PayoutSLA,
			StatusPollEvery:       cfg.StatusPollEvery,
			StatusPollMax:         cfg.StatusPollMax,
		},
		logger,
	)

	chatHandler := handler.NewChatHandler(eng, notifier, cfg.Transport.FromNumber, logger)
	callbackHandler := handler.NewCallbackHandler(settlements, logger)
	healthHandler := handler.NewHealthHandler(pool, rdb)

	return &Server{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		rdb:    rdb,
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      router.New(chatHandler, callbackHandler, healthHandler, cfg.WebhookAPIKey),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		depositSub: sub.NewDepositSubscriber(cfg.KafkaBrokers, cfg.DepositTopic, cfg.DepositGroup, settlements, logger),
		sweeper: worker.NewSweepWorker(cfg.SweepInterval, ledgerSvc, sessions,
			orchestrator, txRepo, userRepo, notifier, logger),
		reconcile: worker.NewReconcileWorker(cfg.StatusPollEvery, settlements, logger),
	}, nil
}

// Run serves until the context is cancelled, then shuts down in order:
// HTTP first so no new commands arrive, then the consumers and workers.
func (s *Server) Run(ctx context.Context) error {
	go s.depositSub.Run(ctx)
	go s.sweeper.Run(ctx)
	go s.reconcile.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := s.depositSub.Close(); err != nil {
		s.logger.Error("kafka reader close failed", zap.Error(err))
	}
	s.rdb.Close()
	s.pool.Close()
	s.logger.Info("server stopped")
	return nil
}
