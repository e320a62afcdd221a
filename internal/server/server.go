// Package server exposes the job handler over HTTP with a RunPod-style API:
// synchronous and queued runs plus status polling.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/KKami91/zonos-worker/internal/job"
)

const (
	defaultWorkers  = 4
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 5 * time.Second
	maxBodyBytes    = 64 << 20
)

var (
	// ErrMissingInput indicates a request body without an input object.
	ErrMissingInput = errors.New("request body must contain an input object")
	// ErrInvalidBody indicates a request body that is not valid JSON.
	ErrInvalidBody = errors.New("invalid request body")
	// ErrBusy indicates that every worker is running a job.
	ErrBusy = errors.New("all workers are busy")
)

// JobHandler runs a single job.
type JobHandler interface {
	Handle(ctx context.Context, j job.Job) job.Output
}

// HealthChecker reports whether the inference backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configure the server.
type Options struct {
	Workers int
	JobTTL  time.Duration
	// Loaded reports the model variants currently loaded; optional.
	Loaded func() []string
}

// RunRequest is the body of /run and /runsync.
type RunRequest struct {
	ID    string    `json:"id"`
	Input job.Input `json:"input"`
}

// Server owns the gin engine, the job store and the pool for queued jobs.
type Server struct {
	engine  *gin.Engine
	handler JobHandler
	health  HealthChecker
	pool    *ants.Pool
	jobs    *JobStore
	opts    Options
	log     *logger.Logger
}

// New builds the server and its routes.
func New(handler JobHandler, health HealthChecker, opts Options, log *logger.Logger) (*Server, error) {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	// Nonblocking: /run must answer at once, so a full pool is reported
	// instead of stalling the request until a worker frees up.
	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(recovered any) {
			log.Error("Queued job panicked: %v", recovered)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	srv := &Server{
		handler: handler,
		health:  health,
		pool:    pool,
		jobs:    NewJobStore(opts.JobTTL),
		opts:    opts,
		log:     log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))
	engine.POST("/runsync", srv.runSync)
	engine.POST("/run", srv.run)
	engine.GET("/status/:id", srv.status)
	engine.GET("/health", srv.healthCheck)

	srv.engine = engine

	return srv, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.System("HTTP job API listening on %s", addr)
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

// Close waits for queued jobs and releases the pool.
func (s *Server) Close() error {
	err := s.pool.ReleaseTimeout(shutdownTimeout)
	if err != nil {
		return fmt.Errorf("failed to release worker pool: %w", err)
	}

	return nil
}

func (s *Server) runSync(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	_, ok = s.createJob(c, req.ID)
	if !ok {
		return
	}

	s.jobs.Start(req.ID)

	output := s.handler.Handle(c.Request.Context(), job.Job{ID: req.ID, Input: req.Input})

	c.JSON(http.StatusOK, s.jobs.Finish(req.ID, output))
}

func (s *Server) run(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	record, ok := s.createJob(c, req.ID)
	if !ok {
		return
	}

	err := s.pool.Submit(func() {
		s.jobs.Start(req.ID)
		output := s.handler.Handle(context.Background(), job.Job{ID: req.ID, Input: req.Input})
		s.jobs.Finish(req.ID, output)
	})
	if err != nil {
		s.log.Error("Failed to queue job %s: %v", req.ID, err)
		if errors.Is(err, ants.ErrPoolOverload) {
			err = fmt.Errorf("%w: %w", ErrBusy, err)
		}

		failed := s.jobs.Finish(req.ID, job.Failure(err))
		c.JSON(http.StatusServiceUnavailable, failed)

		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) createJob(c *gin.Context, id string) (Record, bool) {
	record, err := s.jobs.Create(id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return Record{}, false
	}

	return record, true
}

func (s *Server) status(c *gin.Context) {
	record, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})

		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	body := gin.H{
		"jobs":    s.jobs.Counts(),
		"workers": gin.H{"running": s.pool.Running(), "free": s.pool.Free()},
	}

	if s.opts.Loaded != nil {
		body["models"] = s.opts.Loaded()
	}

	err := s.health.HealthCheck(ctx)
	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)

		return
	}

	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}

// bindRequest decodes the body, keeping numbers as json.Number, and assigns
// an id when the client did not send one.
func (s *Server) bindRequest(c *gin.Context) (RunRequest, bool) {
	var req RunRequest

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Errorf("%w: %w", ErrInvalidBody, err).Error()})

		return req, false
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	err = decoder.Decode(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Errorf("%w: %w", ErrInvalidBody, err).Error()})

		return req, false
	}

	if req.Input == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingInput.Error()})

		return req, false
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return req, true
}

// requestLogger logs every request through the service logger.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()

		c.Next()

		log.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started))
	}
}
