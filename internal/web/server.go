package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
	"github.com/vitos/token_snipe_bot/internal/usecase"
)

// Server is the read-only JSON status surface: ledger, active
// positions, journal.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	service   *usecase.PositionService
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	service *usecase.PositionService,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		service:   service,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Ledger
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handlePositions)

	// Journal
	s.router.HandleFunc("GET /api/history", s.handleHistory)
	s.router.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
