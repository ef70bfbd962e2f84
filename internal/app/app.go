// Package app wires every component of the payment core.
// app.go is the assembly point: it picks the store backend, builds the
// repositories, services and handlers, and puts them behind one HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/api"
	"trafikskola.se/payments/internal/api/middleware"
	"trafikskola.se/payments/internal/config"
	"trafikskola.se/payments/internal/db/postgres"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/cancellation"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/features/invoices"
	"trafikskola.se/payments/internal/features/payments"
	"trafikskola.se/payments/internal/features/token"
	"trafikskola.se/payments/internal/features/users"
	"trafikskola.se/payments/internal/jobs"
	"trafikskola.se/payments/internal/notify"
	"trafikskola.se/payments/internal/store/memory"
)

// Admin keys lock out after this many wrong attempts per window.
const (
	adminMaxFailures = 5
	adminLockout     = 15 * time.Minute
)

// App holds the running components.
type App struct {
	Server    *http.Server
	Scheduler *jobs.Scheduler // nil when JOBS_ENABLED=false

	closers []func() error
}

// stores groups what the services need from the backend.
type stores struct {
	bookings interface {
		payments.Store
		cancellation.Store
		jobs.PendingLister
	}
	credits  credits.Store
	invoices invoices.Store
	users    credits.UserLookup
	tx       credits.TxRunner
	ping     func(ctx context.Context) error
}

// New creates and wires the application.
// The order matters: each step uses what the previous ones built.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	// === 1. Storage ===
	st, err := a.openStores(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// === 2. Action tokens ===
	codec, err := token.NewCodec(cfg.ActionTokenSecret, token.WithTTL(cfg.ActionTokenTTL))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("action token codec: %w", err)
	}
	var replay token.ReplayGuard = token.NoReplayGuard{}
	if cfg.ActionTokenSingleUse {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		replay = token.NewRedisReplayGuard(rdb, cfg.ActionTokenReplayWindow)
		log.WithField("window", cfg.ActionTokenReplayWindow).Info("Single-use action links enabled")
	}

	// === 3. Notifications ===
	dispatcher, err := a.newDispatcher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// === 4. Services ===
	ledger := credits.NewLedger(st.credits, st.tx)
	invoiceService := invoices.NewService(st.invoices, st.tx, cfg.InvoiceDueDays)
	paymentService := payments.NewService(st.bookings, st.tx, ledger, dispatcher, codec,
		payments.WithInvoicer(invoiceService),
		payments.WithPublicBaseURL(cfg.PublicBaseURL),
		payments.WithReplayGuard(replay),
	)
	cancelService := cancellation.NewService(st.bookings, st.tx, ledger, dispatcher, cfg.OperatorEmail)

	// === 5. Handlers and router ===
	adminAuth := middleware.NewAdminAuth(cfg.AdminKeyHash, adminMaxFailures, adminLockout)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	a.closers = append(a.closers,
		func() error { adminAuth.Close(); return nil },
		func() error { limiter.Close(); return nil },
	)

	router := api.NewRouter(api.Handlers{
		Payments:     payments.NewHandler(paymentService),
		Credits:      credits.NewHandler(ledger, st.users),
		Invoices:     invoices.NewHandler(invoiceService),
		Cancellation: cancellation.NewHandler(cancelService),
	}, api.Options{
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    api.SplitOrigins(cfg.CORSAllowedOrigins),
		AdminAuth:      adminAuth,
		PublicLimiter:  limiter,
		WebhookSecret:  cfg.WebhookSecret,
		Ping:           st.ping,
	})

	a.Server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// === 6. Background jobs ===
	if cfg.JobsEnabled {
		a.Scheduler = jobs.NewScheduler(invoiceService, st.bookings, paymentService, cfg.ReminderAfter)
	}

	return a, nil
}

// openStores connects the configured backend.
func (a *App) openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UseMemoryStore() {
		log.Warn("STORE_BACKEND=memory: nothing is persisted")
		mem := memory.New()
		return &stores{
			bookings: mem,
			credits:  mem,
			invoices: mem,
			users:    mem,
			tx:       mem,
			ping:     func(context.Context) error { return nil },
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := postgres.RunMigrations(ctx, pool, Migrations); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &stores{
		bookings: bookings.NewRepository(pool),
		credits:  credits.NewRepository(pool),
		invoices: invoices.NewRepository(pool),
		users:    users.NewRepository(pool),
		tx:       postgres.NewTxManager(pool),
		ping:     pool.Ping,
	}, nil
}

// newDispatcher picks the transports: Kafka for mail when brokers are set,
// otherwise the log; operator summaries also go to Telegram when configured.
func (a *App) newDispatcher(cfg *config.Config) (*notify.Dispatcher, error) {
	var mail notify.Notifier = notify.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaNotificationTopic)
		a.closers = append(a.closers, kn.Close)
		mail = kn
		log.WithField("topic", cfg.KafkaNotificationTopic).Info("Notifications go to Kafka")
	}

	router := notify.NewRouter(mail)
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramOperatorChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		router.Route(notify.KindOperatorSummary, tg)
	}

	return notify.NewDispatcher(router, notify.DispatcherConfig{
		MaxAttempts: cfg.NotifyMaxAttempts,
		RetryDelay:  cfg.NotifyRetryDelay,
		Timeout:     cfg.NotifyTimeout,
		Concurrency: cfg.NotifyConcurrency,
	}), nil
}

// Run serves HTTP and the scheduler until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer a.Scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", a.Server.Addr).Info("HTTP server listening")
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}

// Migrate applies the schema and exits.
func Migrate(ctx context.Context, cfg *config.Config) error {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return postgres.RunMigrations(ctx, pool, Migrations)
}
