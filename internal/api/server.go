package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/reviewchain/internal/api/auth"
	"github.com/reviewchain/internal/chain"
	"github.com/reviewchain/internal/logging"
)

// ChainService is what the HTTP layer needs from chain.Service.
type ChainService interface {
	CreateChain(ctx context.Context, in chain.CreateInput) (*chain.ReviewChain, error)
	Get(ctx context.Context, id string) (*chain.ReviewChain, error)
	List(ctx context.Context, filter chain.ListFilter) ([]*chain.ReviewChain, error)
	Activate(ctx context.Context, id string) (*chain.ReviewChain, error)
	RecordReviewCompleted(ctx context.Context, id, reviewerID string) (*chain.ReviewChain, error)
	ExpireOverdueChains(ctx context.Context, now time.Time) ([]*chain.ReviewChain, error)
}

// Options configures the API server
type Options struct {
	Port            int
	ShutdownTimeout time.Duration
	// JWTSecret enables bearer tokens on the review endpoint when set.
	JWTSecret string
	// RateLimit applies per client IP to write endpoints. Zero disables it.
	RateLimit float64
	Burst     int
}

// Server represents the API server
type Server struct {
	echo    *echo.Echo
	opts    Options
	service ChainService
	schemas *schemaValidator
	tokens  *auth.TokenService
	now     func() time.Time
}

// NewServer creates a new API server
func NewServer(service ChainService, opts Options) (*Server, error) {
	doc, err := LoadOpenAPI()
	if err != nil {
		return nil, err
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:    e,
		opts:    opts,
		service: service,
		schemas: &schemaValidator{doc: doc},
		now:     time.Now,
	}
	if opts.JWTSecret != "" {
		server.tokens = auth.NewTokenService(opts.JWTSecret)
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")
	v1.GET("/openapi.yaml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", openAPIDocument)
	})

	writes := []echo.MiddlewareFunc{}
	if s.opts.RateLimit > 0 {
		writes = append(writes, rateLimiter(s.opts.RateLimit, s.opts.Burst))
	}
	reviews := append([]echo.MiddlewareFunc(nil), writes...)
	if s.tokens != nil {
		reviews = append(reviews, auth.RequireReviewer(s.tokens))
	}

	// Review chain endpoints
	chains := v1.Group("/review-chains")
	chains.GET("", s.listChains)
	chains.POST("", s.createChain, writes...)
	chains.POST("/expire", s.expireOverdue, writes...)
	chains.GET("/:id", s.getChain)
	chains.POST("/:id/activate", s.activateChain, writes...)
	chains.POST("/:id/reviews", s.recordReview, reviews...)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.opts.Port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
