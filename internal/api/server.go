// Package api exposes the changeset engine over JSON HTTP. Handlers map the
// engine's operations 1:1: numeric ids travel as strings, commit conflicts
// surface as 409, not-found as 404, validation failures as 400.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/lexistage/internal/changeset"
	"github.com/lexistage/internal/comments"
	"github.com/lexistage/internal/jobqueue"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
}

// NewServer creates a new API server
func NewServer(port int, store *changeset.Store, commentStore *comments.Store, queue *jobqueue.JobQueue) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(50))))

	server := &Server{
		echo: e,
		port: port,
	}

	h := &Handler{store: store, comments: commentStore, queue: queue}
	server.setupRoutes(h)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(h *Handler) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	// Staging
	v1.POST("/changesets/stage-update", h.stageUpdate)
	v1.POST("/changesets/stage-create", h.stageCreate)
	v1.POST("/changesets/stage-delete", h.stageDelete)
	v1.POST("/changesets/stage-roles", h.stageRolesUpdate)
	v1.POST("/changesets/stage-moderation", h.stageModerationUpdates)

	// Changeset queries and lifecycle
	v1.GET("/changesets/pending", h.listPending)
	v1.GET("/changesets/:id", h.getChangeset)
	v1.POST("/changesets/:id/discard", h.discardChangeset)
	v1.POST("/changesets/:id/commit", h.commitChangeset)
	v1.POST("/changesets/:id/approve-all", h.approveAll)
	v1.POST("/changesets/:id/reject-all", h.rejectAll)
	v1.POST("/changesets/:id/field-changes", h.upsertFieldChange)
	v1.POST("/changesets/:id/read", h.markAsRead)

	// Field changes
	v1.POST("/field-changes/:id/status", h.updateFieldChangeStatus)

	// Batch by provenance
	v1.POST("/jobs/:jobId/commit", h.commitByLlmJob)
	v1.POST("/jobs/:jobId/discard", h.discardByLlmJob)
	v1.POST("/jobs/:jobId/suggestions", h.enqueueSuggestions)
	v1.POST("/users/:userId/commit", h.commitByUser)
	v1.POST("/users/:userId/discard", h.discardByUser)

	// Read-view overlay
	v1.GET("/entities/:type/:id/pending", h.getPendingInfo)

	// Comments and unread tracking
	v1.POST("/comments", h.addComment)
	v1.GET("/comments", h.getComments)
	v1.POST("/comments/counts", h.getCommentCounts)
	v1.GET("/comments/unread", h.getUnreadComments)
	v1.POST("/comments/unread-status", h.getUnreadStatus)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
