package report

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// TradeFetcher retrieves the account's trade fills for a symbol.
type TradeFetcher interface {
	MyTrades(ctx context.Context, symbol string) ([]models.Trade, error)
}

// Server exposes the trade reports over HTTP. Every request fetches
// fills fresh from the exchange, so reports always reflect the current
// account history.
type Server struct {
	cfg        config.ReportConfig
	fetcher    TradeFetcher
	httpServer *http.Server
	log        *logger.Log
}

// NewServer constructs a report server when reporting is enabled. When
// reporting is disabled the returned server is nil.
func NewServer(cfg config.ReportConfig, fetcher TradeFetcher, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	return &Server{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
	}
}

// Run starts the report HTTP server and blocks until the context is
// cancelled or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	log := s.log.WithComponent("report").WithFields(logger.Fields{"address": s.cfg.Address})

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	log.Info("starting report server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("report server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/report/historic-trades", s.handleHistoricTrades)
	router.GET("/report/avg-price", s.handleAveragePrice)

	return router
}

func (s *Server) symbolParam(c *gin.Context) string {
	if symbol := c.Query("symbol"); symbol != "" {
		return symbol
	}
	return s.cfg.Symbol
}

func (s *Server) handleHistoricTrades(c *gin.Context) {
	symbol := s.symbolParam(c)

	trades, err := s.fetcher.MyTrades(c.Request.Context(), symbol)
	if err != nil {
		s.log.WithComponent("report").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
		}).Warn("failed to fetch trades for report")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":  symbol,
		"reports": ProfitLossByOrder(trades),
	})
}

func (s *Server) handleAveragePrice(c *gin.Context) {
	symbol := s.symbolParam(c)

	trades, err := s.fetcher.MyTrades(c.Request.Context(), symbol)
	if err != nil {
		s.log.WithComponent("report").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
		}).Warn("failed to fetch trades for report")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"avgPrice": AveragePrice(trades),
	})
}
