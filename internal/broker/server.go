package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/Termix-SSH/Termix-sub004/internal/activity"
	"github.com/Termix-SSH/Termix-sub004/internal/config"
	"github.com/Termix-SSH/Termix-sub004/internal/credstore"
)

// Server is the broker daemon: chi router, terminal WebSocket endpoints, the
// credential and token stores, and the embedded activity worker.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	httpServer *http.Server

	worker   *activity.Worker
	tokens   *TokenStore
	creds    *credstore.Store
	registry *Registry
	terminal *TerminalHandler
}

// New assembles a Server from configuration.
func New(cfg *config.Config) (*Server, error) {
	worker := activity.NewWorker(cfg.RedisAddr, log.Logger)

	s := &Server{
		cfg:      cfg,
		worker:   worker,
		tokens:   NewTokenStore(),
		creds:    credstore.NewStore(),
		registry: NewRegistry(),
	}
	s.terminal = &TerminalHandler{
		SSH:      &SSHConnector{},
		Local:    &LocalConnector{},
		Registry: s.registry,
		Creds:    s.creds,
		Tokens:   s.tokens,
		Activity: worker.Recorder(),
		Log:      log.Logger,
	}

	s.setupRouter()

	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(BearerAuth(s.cfg.APIKey))

		r.Post("/auth/token", handleIssueToken(s.tokens))
		r.Post("/activity", handleRecordActivity(s.terminal.Activity))

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", handlePutCredential(s.creds))
			r.Delete("/{ref}", handleDeleteCredential(s.creds))
		})
	})

	// Terminal WebSockets (token query auth; no request timeout — sessions
	// are long-lived)
	r.Get("/terminal/ssh", s.terminal.ServeSSH)
	r.Get("/terminal/local", s.terminal.ServeLocal)

	s.router = r
}

// Router exposes the assembled handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving on addr and starts the activity worker. Blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket sessions stream indefinitely
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Msg("Starting activity worker")
	s.worker.Start()

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server and the activity worker.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("Shutting down activity worker")
	s.worker.Shutdown()

	return nil
}
