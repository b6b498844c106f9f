// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bowerhall/kindred/internal/budget"
	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/persona"
	"github.com/bowerhall/kindred/internal/store"
)

const shutdownTimeout = 10 * time.Second

type Store interface {
	CreateReflection(ctx context.Context, r *store.Reflection) error
	GetReflection(ctx context.Context, id string) (*store.Reflection, error)
	ListReflections(ctx context.Context, ownerID string) ([]store.Reflection, error)
	GetPersonality(ctx context.Context, ownerID string) (*store.Personality, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	Ping(ctx context.Context) error
}

type Dispatcher interface {
	Submit(reflectionID, ownerID string) bool
}

type Extractor interface {
	Extract(ctx context.Context, reflectionID string) (*essence.Result, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, ownerID string) (*store.Personality, error)
}

type Responder interface {
	Respond(ctx context.Context, req persona.Request) (*persona.Response, error)
}

// AudioStore serves stored clips. Optional.
type AudioStore interface {
	Download(ctx context.Context, key string) ([]byte, string, error)
	Healthy(ctx context.Context) bool
}

type Deps struct {
	Store      Store
	Dispatcher Dispatcher
	Extractor  Extractor
	Rebuilder  Rebuilder
	Responder  Responder
	Audio      AudioStore
	Budget     *budget.Tracker
}

type Server struct {
	engine *gin.Engine
	addr   string
}

func New(addr string, deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	NewReflectionHandler(r, deps.Store, deps.Dispatcher, deps.Extractor)
	NewPersonaHandler(r, deps.Store, deps.Rebuilder, deps.Responder)
	NewSystemHandler(r, deps.Store, deps.Audio, deps.Budget)

	return &Server{engine: r, addr: addr}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
