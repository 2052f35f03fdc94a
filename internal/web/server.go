package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/infrastructure/metrics"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	service *usecase.ExitService
	journal domain.TradeJournal
	feed    domain.TickFeed
	logger  *zap.Logger
}

func NewServer(
	port int,
	service *usecase.ExitService,
	journal domain.TradeJournal,
	feed domain.TickFeed,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		service: service,
		journal: journal,
		feed:    feed,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Diagnostics
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /journal", s.handleJournal)
	s.router.HandleFunc("GET /cooldown", s.handleCooldown)

	// Control
	s.router.HandleFunc("POST /trade", s.handleTradeInit)
	s.router.HandleFunc("POST /exit", s.handleKillSwitch)
	s.router.HandleFunc("POST /cooldown/reset", s.handleCooldownReset)

	// Prometheus
	s.router.Handle("GET /metrics", metrics.Handler())
}

// Handler exposes the route table.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("web server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
