package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ballotd/apiserver/config"
	"github.com/ballotd/apiserver/internal/db"
	"github.com/ballotd/apiserver/internal/handlers"
	"github.com/ballotd/apiserver/internal/logging"
	"github.com/ballotd/apiserver/internal/mq"
	"github.com/ballotd/apiserver/internal/services"
	"github.com/ballotd/apiserver/internal/session"
	"github.com/ballotd/apiserver/internal/storage"
	"github.com/ballotd/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	log        logrus.FieldLogger
	closers    []func() error
}

// New connects every dependency, creates the bootstrap admin when missing
// and builds the router.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*Server, error) {
	sessions, err := session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := &Server{db: dbConn, log: log}

	revoker, closeRevoker, err := session.NewRevoker(ctx, cfg.Redis)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, closeRevoker)

	var events services.EventPublisher
	backend, err := mq.Open(ctx, cfg.Events)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect events broker: %w", err)
	}
	if backend != nil {
		publisher := mq.NewEvents(backend, cfg.Events.Channel, log)
		s.closers = append(s.closers, publisher.Close)
		events = publisher
	}

	var archive services.ResultsArchive
	objects, err := storage.Open(ctx, cfg.Archive)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect results archive: %w", err)
	}
	if objects != nil {
		results := storage.NewResultsArchive(objects)
		s.closers = append(s.closers, results.Close)
		archive = results
	}

	userRepo := store.NewUserRepository(dbConn)
	electionRepo := store.NewElectionRepository(dbConn)
	voteRepo := store.NewVoteRepository(dbConn)

	userService := services.NewUserService(userRepo, services.NewBcryptHasher(), log)
	electionService := services.NewElectionService(electionRepo, voteRepo, userRepo, events, archive, log)

	if _, err := userService.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminPassword); err != nil {
		s.close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	auth := handlers.NewAuthHandler(userService, sessions, revoker, cfg.Session.CookieSecure, log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(log),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(dbConn))
	router.Route("/api", func(r chi.Router) {
		handlers.AuthRouter(r, auth)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Route("/users", func(r chi.Router) {
				handlers.UserRouter(r, handlers.NewUserHandler(userService, log))
			})
			r.Route("/elections", func(r chi.Router) {
				handlers.ElectionRouter(r, handlers.NewElectionHandler(electionService, log))
			})
		})
	})
	if cfg.StaticDir != "" {
		router.Get("/*", handlers.SPA(cfg.StaticDir))
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("close failed")
		}
	}
	s.closers = nil
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
