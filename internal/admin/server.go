// Package admin exposes the operator HTTP surface: question-bank CRUD
// and read-only listings of sessions, players, standings, and roadmaps,
// behind JWT-authenticated endpoints.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/config"
	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
)

// Accounts authenticates operator credentials.
type Accounts interface {
	Authenticate(ctx context.Context, username, password string) (postgres.Admin, error)
}

// Questions is the question-bank persistence the admin surface mutates.
type Questions interface {
	Create(ctx context.Context, title string, answers []game.Answer) (game.Question, error)
	Update(ctx context.Context, q game.Question) (game.Question, error)
	List(ctx context.Context, limit, offset int) ([]game.Question, error)
}

// Players lists the known player roster.
type Players interface {
	List(ctx context.Context, limit, offset int) ([]game.Player, error)
}

// Reports lists sessions and their per-session detail.
type Reports interface {
	ListSessions(ctx context.Context, limit, offset int) ([]game.Session, error)
	ListStandings(ctx context.Context, sessionID int64) ([]game.Standing, error)
	ListRoadmap(ctx context.Context, sessionID int64) ([]game.RoadmapEntry, error)
}

// Server is the admin HTTP listener. It implements the Service contract:
// Start blocks serving requests, Stop shuts down gracefully.
type Server struct {
	cfg       config.AdminConfig
	logger    *zap.Logger
	accounts  Accounts
	questions Questions
	players   Players
	reports   Reports
	httpSrv   *http.Server
}

// NewServer creates an admin Server.
//
// Precondition: all dependencies must be non-nil; cfg must have passed
// validation.
func NewServer(cfg config.AdminConfig, accounts Accounts, questions Questions, players Players, reports Reports, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		accounts:  accounts,
		questions: questions,
		players:   players,
		reports:   reports,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// router assembles the endpoint tree: a public login route and a secured
// subrouter carrying everything else.
func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware(s.logger))

	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)

	secured := r.PathPrefix("/api").Subrouter()
	secured.Use(s.authMiddleware)
	secured.HandleFunc("/questions", s.handleCreateQuestion).Methods(http.MethodPost)
	secured.HandleFunc("/questions", s.handleListQuestions).Methods(http.MethodGet)
	secured.HandleFunc("/questions/{id:[0-9]+}", s.handleUpdateQuestion).Methods(http.MethodPut)
	secured.HandleFunc("/games", s.handleListGames).Methods(http.MethodGet)
	secured.HandleFunc("/games/{id:[0-9]+}/standings", s.handleListStandings).Methods(http.MethodGet)
	secured.HandleFunc("/games/{id:[0-9]+}/roadmap", s.handleListRoadmap).Methods(http.MethodGet)
	secured.HandleFunc("/players", s.handleListPlayers).Methods(http.MethodGet)
	return r
}

// Handler exposes the assembled router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves HTTP until Stop is called.
//
// Postcondition: Returns nil after a graceful shutdown, or the listener
// error otherwise.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("admin server shutdown", zap.Error(err))
	}
}
