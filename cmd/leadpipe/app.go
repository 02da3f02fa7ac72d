package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"leadpipe/internal/config"
	"leadpipe/internal/constants"
	"leadpipe/internal/delivery"
	"leadpipe/internal/intake"
	"leadpipe/internal/lead"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	"leadpipe/internal/sms"
	"leadpipe/internal/spreadsheet"
	"leadpipe/internal/warehouse"
	"leadpipe/pkg/bootstrap"
	"leadpipe/pkg/health"
	"leadpipe/pkg/logging"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/middleware"
	"leadpipe/pkg/ratelimit"
	"leadpipe/pkg/tracing"
)

// queues groups the four durable queues. Dead-letter queues are nil when not
// configured.
type queues struct {
	leads               queue.Queue
	warehouse           queue.Queue
	leadsDeadLetter     queue.Queue
	warehouseDeadLetter queue.Queue
}

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	warehouseDB    *sql.DB
	queues         queues
	leadSink       *spreadsheet.LeadSink
	unsubscriber   *spreadsheet.Unsubscriber
	warehouseSink  *warehouse.Sink
	healthRegistry *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server

	// stop cancels background goroutines started during Initialize.
	stop context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPipelineMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initWarehouse(ctx); err != nil {
		return fmt.Errorf("failed to initialize warehouse: %w", err)
	}

	if err := a.initQueues(); err != nil {
		return fmt.Errorf("failed to initialize queues: %w", err)
	}

	if err := a.initSinks(ctx); err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}

	a.initHealth()

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initWarehouse(ctx context.Context) error {
	db, err := a.dbConnector.InitWarehouse(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return nil
	}
	a.warehouseDB = db
	a.Track("warehouse", db)

	if a.Config.Warehouse.RunMigrations {
		version, dirty, err := warehouse.Migrate(db, a.Config.Warehouse.Schema)
		if err != nil {
			initCtx := logging.WithServiceName(ctx, constants.ServiceName)
			a.Logger.WarnwCtx(initCtx, "Warehouse migration failed, inserts will be queued until it succeeds",
				"error", err,
			)
			return nil
		}
		a.Logger.InfowCtx(ctx, "Warehouse schema migrated", "version", version, "dirty", dirty)
	}
	return nil
}

func (a *App) initQueues() error {
	var err error
	if a.queues.leads, err = a.openQueue(constants.QueueLeads, a.Config.Queue.Leads); err != nil {
		return err
	}
	if a.queues.warehouse, err = a.openQueue(constants.QueueWarehouse, a.Config.Queue.Warehouse); err != nil {
		return err
	}
	if a.Config.Queue.LeadsDeadLetter != "" {
		if a.queues.leadsDeadLetter, err = a.openQueue(constants.QueueLeads+"_dead_letter", a.Config.Queue.LeadsDeadLetter); err != nil {
			return err
		}
	}
	if a.Config.Queue.WarehouseDeadLetter != "" {
		if a.queues.warehouseDeadLetter, err = a.openQueue(constants.QueueWarehouse+"_dead_letter", a.Config.Queue.WarehouseDeadLetter); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openQueue(name, dsn string) (queue.Queue, error) {
	q, err := queue.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", name, err)
	}
	a.Track("queue "+name, q)
	return queue.NewInstrumented(q), nil
}

func (a *App) initSinks(ctx context.Context) error {
	cfg := a.Config

	if !cfg.Spreadsheet.Credentials.Configured() {
		return fmt.Errorf("spreadsheet credentials are required (spreadsheet.credentials.client_email and private_key)")
	}
	googleSheet, err := spreadsheet.NewGoogleSheet(ctx, cfg.Spreadsheet)
	if err != nil {
		return err
	}
	sheet := spreadsheet.WrapWithCircuitBreaker(googleSheet, "sheets", cfg.CircuitBreaker)

	var sender sms.Sender = sms.NopSender{}
	if cfg.SMS.Configured() {
		sender = sms.WrapWithCircuitBreaker(sms.NewVonageClient(cfg.SMS), "vonage", cfg.CircuitBreaker)
	} else {
		a.Logger.WarnwCtx(ctx, "SMS credentials not configured, confirmations disabled")
	}

	templater, err := sms.NewTemplater(cfg.SMS.Template)
	if err != nil {
		return fmt.Errorf("sms template: %w", err)
	}
	alert, err := spreadsheet.NewAlertRule(cfg.Spreadsheet.AlertRule)
	if err != nil {
		return fmt.Errorf("alert rule: %w", err)
	}

	a.leadSink = spreadsheet.NewLeadSink(sheet, sender, templater, alert, a.Logger)
	a.unsubscriber = spreadsheet.NewUnsubscriber(sheet, a.Logger)
	a.warehouseSink = warehouse.NewSink(a.warehouseDB, cfg.Warehouse.Schema, cfg.Warehouse.Table, a.Logger)
	return nil
}

func (a *App) initHealth() {
	a.healthRegistry = health.NewCheckerRegistry()
	if a.warehouseDB != nil {
		a.healthRegistry.RegisterOptional(health.NewPostgreSQLChecker(a.warehouseDB))
	}

	redisChecked := false
	for _, q := range []queue.Queue{a.queues.leads, a.queues.warehouse} {
		a.healthRegistry.Register(health.NewQueueChecker(q))
		if rq, ok := unwrapQueue(q).(*queue.RedisQueue); ok && !redisChecked {
			a.healthRegistry.Register(health.NewRedisChecker(rq.Client()))
			redisChecked = true
		}
	}
}

func unwrapQueue(q queue.Queue) queue.Queue {
	if inst, ok := q.(*queue.Instrumented); ok {
		return inst.Unwrap()
	}
	return q
}

func (a *App) initHTTPServer(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.stop = cancel

	handler := &intake.Handler{
		Normalizer:     lead.NewNormalizer(interestTable(a.Config.Interests)),
		LeadQueue:      a.queues.leads,
		WarehouseQueue: a.queues.warehouse,
		Warehouse:      a.warehouseSink,
		Spreadsheet:    a.leadSink,
		Unsubscriber:   a.unsubscriber,
		Health:         a.healthRegistry,
		Logger:         a.Logger,
		InlineTimeout:  a.Config.Warehouse.InlineTimeout,
	}

	router := newRouter(bgCtx, a.Config, a.Logger, handler)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      withCORS(a.Config.Server.AllowedOrigins, router),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	a.Logger.InfowCtx(ctx, "HTTP server configured",
		"port", a.Config.Server.Port,
		"allowed_origins", a.Config.Server.AllowedOrigins,
	)
	return nil
}

func newRouter(ctx context.Context, cfg *config.Config, log logger.Logger, handler *intake.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware())
	router.Use(tracing.GinMiddleware(constants.ServiceName))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(ratelimit.RateLimitMiddleware(ctx, ratelimit.RateLimitConfig{
		Enabled:         cfg.RateLimit.Enabled,
		RPS:             cfg.RateLimit.RPS,
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: time.Duration(cfg.RateLimit.CleanupInterval) * time.Second,
		MaxAge:          time.Duration(cfg.RateLimit.MaxAge) * time.Second,
	}))

	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// withCORS applies the origin policy to every response and answers
// preflight requests with 204 before routing.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	policy := cors.Handler(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Accept", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:     []string{middleware.RequestIDHeader},
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	})
	return policy(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func interestTable(interests []config.InterestConfig) lead.InterestTable {
	if len(interests) == 0 {
		return nil
	}
	table := make(lead.InterestTable, len(interests))
	for _, in := range interests {
		table[in.Agent] = append(table[in.Agent], in.Departments...)
	}
	return table
}

func (a *App) workers() []*delivery.Worker {
	wc := a.Config.Worker
	opts := func(deadLetter queue.Queue) []delivery.Option {
		o := []delivery.Option{
			delivery.WithPollInterval(wc.PollInterval),
			delivery.WithFailureBackoff(wc.InitialBackoff, wc.MaxBackoff),
			delivery.WithMaxAttempts(wc.MaxAttempts),
		}
		if deadLetter != nil {
			o = append(o, delivery.WithDeadLetter(deadLetter))
		}
		return o
	}

	return []*delivery.Worker{
		delivery.NewWorker(a.queues.leads, a.leadSink, a.Logger, opts(a.queues.leadsDeadLetter)...),
		delivery.NewWorker(a.queues.warehouse, a.warehouseSink, a.Logger, opts(a.queues.warehouseDeadLetter)...),
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("HTTP server shutdown: %w", err)
			}
			return nil
		})
	}

	for _, w := range a.workers() {
		w := w
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		if a.stop != nil {
			a.stop()
		}

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
			}
		}

		return errs
	})
}
