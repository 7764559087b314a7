// Package web provides the HTTP server for the scent-dispenser daemon:
// a status page, JSON status, a websocket status feed and the recipe
// submission API.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/status"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	// Inbox receives recipe and RESET submissions for the controller.
	Inbox       chan<- logic.Submission
	Ingredients map[string]int
	Limits      Limits
	WSInterval  time.Duration
	Logger      *zap.Logger
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	tracker    *status.Tracker
	inbox      chan<- logic.Submission
	recipes    *RecipeValidator
	wsInterval time.Duration
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

// New creates a Server that reads state from the tracker and writes commands to the inbox.
func New(o Options) (*Server, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.WSInterval <= 0 {
		o.WSInterval = time.Second
	}
	recipes, err := NewRecipeValidator(o.Ingredients, o.Limits)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:     gin.New(),
		tracker:    o.Tracker,
		inbox:      o.Inbox,
		recipes:    recipes,
		wsInterval: o.WSInterval,
		logger:     o.Logger,
		closing:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin may subscribe to the status feed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        o.Addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))

	s.router.GET("/", s.handleIndex)
	s.router.GET("/index.html", s.handleIndex)
	s.router.GET("/index.json", s.handleJSON)
	s.router.GET("/ws", s.handleWS)

	api := s.router.Group("/api")
	api.POST("/recipe", s.handleRecipe)
	api.POST("/reset", s.handleReset)
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes websocket feeds and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, s.tracker.Snapshot()); err != nil {
		s.logger.Warn("render status page", zap.Error(err))
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleRecipe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorJSON("failed to read body", nil))
		return
	}
	if len(body) > maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorJSON("body too large", nil))
		return
	}

	req, recipe, err := s.recipes.Decode(body)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			s.logger.Info("recipe rejected", zap.String("reason", reqErr.Message), zap.Any("details", reqErr.Details))
			c.JSON(http.StatusBadRequest, errorJSON(reqErr.Message, reqErr.Details))
			return
		}
		c.JSON(http.StatusInternalServerError, errorJSON(err.Error(), nil))
		return
	}

	if snap := s.tracker.Snapshot(); snap.JobState.Busy() {
		details := map[string]any{"state": string(snap.JobState)}
		if snap.JobState == logic.JobFault {
			details["fault"] = snap.LastFault
		}
		s.logger.Info("recipe refused", zap.String("state", string(snap.JobState)), zap.String("production_id", req.ProductionID))
		c.JSON(http.StatusConflict, errorJSON("controller busy", details))
		return
	}

	line := recipe.Format()
	if !s.submit(logic.Submission{Line: line, Production: req.Production()}) {
		c.JSON(http.StatusServiceUnavailable, errorJSON("controller inbox full", nil))
		return
	}
	s.logger.Info("recipe submitted",
		zap.String("name", req.Name),
		zap.String("production_id", req.ProductionID),
		zap.String("line", line),
	)
	c.JSON(http.StatusAccepted, AcceptedJSON{
		Status:       "accepted",
		Line:         line,
		Name:         req.Name,
		ProductionID: req.ProductionID,
		CallbackURL:  req.CallbackURL,
		Recipe:       recipe[:],
		TotalMl:      recipe.Total(),
	})
}

func (s *Server) handleReset(c *gin.Context) {
	if !s.submit(logic.Submission{Line: logic.ResetCommand}) {
		c.JSON(http.StatusServiceUnavailable, errorJSON("controller inbox full", nil))
		return
	}
	c.JSON(http.StatusAccepted, AcceptedJSON{Status: "accepted", Line: logic.ResetCommand})
}

// submit hands a line to the controller without blocking the request.
func (s *Server) submit(sub logic.Submission) bool {
	select {
	case s.inbox <- sub:
		return true
	default:
		return false
	}
}
