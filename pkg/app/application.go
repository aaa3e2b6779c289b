package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"clinicops/internal/reservations/handler"
	"clinicops/pkg/config"
	"clinicops/pkg/contracts"
	"clinicops/pkg/middleware"

	"github.com/julienschmidt/httprouter"
)

// Worker is a long-running background task tied to the application
// lifecycle: started with Run, cancelled on shutdown.
type Worker func(ctx context.Context)

type Application struct {
	cfg              *config.Config
	server           *http.Server
	idempotencyStore *middleware.InMemoryIdempotencyStore
	rateLimiter      *middleware.SessionRateLimiter
	healthHandler    http.Handler
	appHTTPHandler   http.Handler

	workers  []Worker
	stoppers []func()
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

// SetApp wires the HTTP surface: health endpoints behind a minimal
// middleware chain, application endpoints behind the full one. Routes
// under streamPrefixes skip the request timeout so long-lived streams
// survive it.
func (a *Application) SetApp(appHandlers []contracts.Handler, streamPrefixes ...string) {
	a.setHealthHandler()
	a.setAppHandler(appHandlers, streamPrefixes)
	a.setAppServer()
}

// AddWorker registers a background task started by Run.
func (a *Application) AddWorker(worker Worker) {
	a.workers = append(a.workers, worker)
}

// AddStopper registers a cleanup hook invoked during graceful shutdown.
func (a *Application) AddStopper(stop func()) {
	a.stoppers = append(a.stoppers, stop)
}

func (a *Application) setHealthHandler() {
	healthRouter := httprouter.New()
	healthHandler := handler.NewHealthHandler(a.cfg.Client.Mongo, a.cfg.Log)
	healthHandler.RegisterRoutes(healthRouter)

	var healthHTTPHandler http.Handler = healthRouter
	healthHTTPHandler = middleware.RequestLogging(a.cfg.Log)(healthHTTPHandler)
	healthHTTPHandler = middleware.Recovery(a.cfg.Log)(healthHTTPHandler)
	a.healthHandler = healthHTTPHandler
	a.cfg.Log.Info("Health endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(appHandlers []contracts.Handler, streamPrefixes []string) {
	appRouter := httprouter.New()
	for _, h := range appHandlers {
		h.RegisterRoutes(appRouter)
	}

	a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(a.cfg.IdempotencyTTL)
	a.rateLimiter = middleware.NewSessionRateLimiter(
		a.cfg.RateLimitRequests,
		a.cfg.RateLimitWindow,
		middleware.DefaultSessionExtractor,
		a.cfg.Log,
	)

	var appHTTPHandler http.Handler = appRouter
	appHTTPHandler = middleware.Idempotency(a.idempotencyStore, "Idempotency-Key")(appHTTPHandler)
	appHTTPHandler = middleware.RequestTimeout(a.cfg.RequestTimeout, streamPrefixes...)(appHTTPHandler)
	appHTTPHandler = middleware.SessionRateLimit(a.rateLimiter)(appHTTPHandler)
	appHTTPHandler = middleware.ContentTypeValidation(a.cfg.Log)(appHTTPHandler)
	appHTTPHandler = middleware.MaxRequestSize(int64(a.cfg.MaxRequestSize))(appHTTPHandler)
	appHTTPHandler = middleware.RequestLogging(a.cfg.Log)(appHTTPHandler)
	appHTTPHandler = middleware.Recovery(a.cfg.Log)(appHTTPHandler)
	a.appHTTPHandler = appHTTPHandler
	a.cfg.Log.Info("Application endpoints configured with full middleware stack")
}

func (a *Application) setAppServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", a.healthHandler)
	mux.Handle("/ready", a.healthHandler)
	mux.Handle("/", a.appHTTPHandler)

	a.server = &http.Server{
		Addr:        ":" + a.cfg.Port,
		Handler:     mux,
		ReadTimeout: a.cfg.ReadTimeout,
		IdleTimeout: a.cfg.IdleTimeout,
		// WriteTimeout is left unset: SSE streams stay open far longer
		// than any write deadline; per-request timeouts come from the
		// middleware instead.
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

func (a *Application) Run() {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, worker := range a.workers {
		wg.Add(1)
		go func(worker Worker) {
			defer wg.Done()
			worker(workerCtx)
		}(worker)
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		serverErrors <- a.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		cancelWorkers()
		a.cfg.Log.Fatal("HTTP server failed", "error", err)

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown(cancelWorkers, &wg)
	}
}

func (a *Application) gracefulShutdown(cancelWorkers context.CancelFunc, wg *sync.WaitGroup) {
	a.cfg.Log.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Error("Could not stop server gracefully", "error", err)
		}
	}

	a.cfg.Log.Info("Stopping background workers...")
	cancelWorkers()
	wg.Wait()
	a.idempotencyStore.Stop()
	a.rateLimiter.Stop()
	for _, stop := range a.stoppers {
		stop()
	}
	a.cfg.Log.Info("Background workers stopped")

	a.cfg.Log.Info("Server stopped gracefully")
}
