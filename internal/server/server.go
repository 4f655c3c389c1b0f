// Package server wires the catalog, the event bus and the subscription transport into
// one HTTP server and owns their lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/catalog"
	"librarycatalog/internal/config"
	"librarycatalog/internal/delivery"
	"librarycatalog/internal/pubsub"
	"librarycatalog/internal/store/breaker"
	"librarycatalog/internal/store/memstore"
	"librarycatalog/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	bus      *pubsub.Bus
	store    catalog.Store
	breaker  *breaker.Store
	ops      []string
	closeDB  func() error
	registry *prometheus.Registry
	router   chi.Router
}

// New opens the configured store and builds the server. cfg must be valid.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Server, error) {
	var (
		store   catalog.Store
		cb      *breaker.Store
		closeDB = func() error { return nil }
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.ConnectWait)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		cb = breaker.Wrap(pg, breaker.Settings{}, log)
		store, closeDB = cb, db.Close
	default:
		store = memstore.New()
	}

	s, err := build(cfg, store, log)
	if err != nil {
		closeDB()
		return nil, err
	}
	s.breaker, s.closeDB = cb, closeDB
	return s, nil
}

func build(cfg *config.Config, store catalog.Store, log zerolog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	password, err := auth.NewSharedPassword(cfg.Auth.LoginPassword)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.Auth.LoginRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Auth.LoginRate), cfg.Auth.LoginBurst)
	}

	bus := pubsub.New(pubsub.WithBuffer(cfg.Subscriptions.Buffer), pubsub.WithMetrics(pubsub.NewMetrics(reg)))
	svc := catalog.NewService(catalog.Deps{
		Store:        store,
		Bus:          bus,
		Tokens:       signer,
		Passwords:    password,
		LoginLimiter: limiter,
		Logger:       log,
	})
	dispatcher := catalog.NewDispatcher(svc, catalog.NewMetrics(reg))
	guard := auth.NewGuard(signer, store, log)

	s := &Server{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		closeDB:  func() error { return nil },
		registry: reg,
		ops:      dispatcher.Operations(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(guard.Middleware)
		r.Post("/api", catalog.NewHandler(dispatcher, log).ServeHTTP)
		r.Get("/subscriptions", delivery.NewHandler(dispatcher, delivery.Settings{
			WriteWait: cfg.Subscriptions.WriteWait,
			PongWait:  cfg.Subscriptions.PongWait,
		}, delivery.NewMetrics(reg), log).ServeHTTP)
	})
	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	s.router = r
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Bus returns the event bus owned by the server.
func (s *Server) Bus() *pubsub.Bus { return s.bus }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":      "ok",
		"store":       s.cfg.Store.Driver,
		"subscribers": s.bus.Subscribers(catalog.TopicBookAdded),
		"operations":  s.ops,
	}
	if s.breaker != nil {
		state := s.breaker.State()
		body["breaker"] = state.String()
		if state == gobreaker.StateOpen {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Run serves on the configured port until ctx is done, then closes the bus so open
// subscriptions end with a going-away frame, drains HTTP and closes the store.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Str("store", s.cfg.Store.Driver).Msg("library server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down")
		s.bus.Close()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if cerr := s.closeDB(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	})
	return g.Wait()
}
