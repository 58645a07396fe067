package adminserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/metrics"
	"github.com/streamfleet/scheduler/pkg/telemetry"
)

// Config configures the admin HTTP listener.
type Config struct {
	Host string
	Port int
}

// AssignmentSource is read by the /assignment handler; the control loop
// updates it after every publish.
type AssignmentSource interface {
	CurrentAssignment() domain.WorkerSet
	IsLeader() bool
}

// Server exposes /healthz, /metrics, /assignment, and a websocket feed at
// /assignment/stream over the current replica's view of scheduler state.
type Server struct {
	cfg        Config
	logger     logger.Logger
	source     AssignmentSource
	httpServer *http.Server
	hub        *hub
	stop       chan struct{}
	wg         sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New constructs a Server. It does not start listening until Start is called.
// tel traces every request through Telemetry.HTTPMiddleware; pass
// telemetry.NewNop() to disable tracing.
func New(cfg Config, source AssignmentSource, tel *telemetry.Telemetry, log logger.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: log,
		source: source,
		hub:    newHub(log),
		stop:   make(chan struct{}),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tel.HTTPMiddleware())
	router.Use(loggingMiddleware(log))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/assignment", s.handleAssignment)
	router.GET("/assignment/stream", s.handleStream)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start runs the hub's broadcast loop and blocks serving HTTP until
// Shutdown is called. Intended to be run in its own goroutine.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run(s.stop)
	}()

	s.logger.Info("admin server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// PublishAssignment fans the given worker set out to connected websocket
// clients. Called by the control loop after every successful publish.
func (s *Server) PublishAssignment(workers domain.WorkerSet) {
	s.hub.publish(workers)
}

// Shutdown gracefully stops the HTTP listener and the hub's broadcast loop.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":   "ok",
		"is_leader": s.source.IsLeader(),
	}
	c.JSON(status, body)
}

func (s *Server) handleAssignment(c *gin.Context) {
	workers := s.source.CurrentAssignment()
	c.JSON(http.StatusOK, snapshotFromWorkers(workers))
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("admin server: websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, send: make(chan AssignmentSnapshot, 4)}
	s.hub.register <- cl

	go cl.writePump()
	cl.readPump(s.hub)
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		metrics.RecordHTTPRequest("scheduler-admin", c.Request.Method, path, fmt.Sprintf("%d", c.Writer.Status()))
		metrics.RecordHTTPDuration("scheduler-admin", c.Request.Method, path, time.Since(start).Seconds())

		log.Info("admin request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
