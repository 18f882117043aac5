// Package server exposes touch sessions over HTTP, WebSocket and gRPC.
package server

import (
	"TouchCounter/monitor"
	"TouchCounter/pipeline"
	"TouchCounter/store"
	"TouchCounter/touch"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// maxImageBytes bounds uploaded and streamed frames.
const maxImageBytes = 20 * 1024 * 1024

// Journal lists recorded events; nil disables the events endpoint.
type Journal interface {
	List(ctx context.Context, sessionID string, limit int) ([]store.Event, error)
}

type Server struct {
	registry       *touch.Registry
	pipeline       *pipeline.Pipeline
	journal        Journal
	allowedOrigins []string
}

type Option func(*Server)

// WithAllowedOrigins lets browsers on origins call the HTTP API. "*" allows
// any origin; no origins leaves CORS off.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func New(registry *touch.Registry, pipe *pipeline.Pipeline, journal Journal, opts ...Option) *Server {
	s := &Server{registry: registry, pipeline: pipe, journal: journal}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler is Router behind the CORS policy. Preflight requests are answered
// here and never reach gin.
func (s *Server) Handler() http.Handler {
	r := s.Router()
	if len(s.allowedOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins:       s.allowedOrigins,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:       []string{"*"},
		OptionsSuccessStatus: http.StatusNoContent,
	}).Handler(r)
}

// detectionJSON matches the wire format of the legacy detection endpoint
// and of engine.Remote.
type detectionJSON struct {
	Label       string    `json:"label"`
	Coordinates []float64 `json:"coordinates"`
	Confidence  float64   `json:"confidence"`
}

func toJSON(dets []touch.Detection) []detectionJSON {
	out := make([]detectionJSON, 0, len(dets))
	for _, d := range dets {
		out = append(out, detectionJSON{Label: d.Label, Coordinates: d.Coordinates(), Confidence: d.Confidence})
	}
	return out
}

func frameJSON(res touch.FrameResult) gin.H {
	return gin.H{
		"touches":    res.Touches,
		"detections": toJSON(res.Accepted),
		"counted":    res.Step.Counted,
	}
}

// errorStatus maps pipeline and session errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, touch.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, touch.ErrStaleFrame):
		return http.StatusConflict
	case errors.Is(err, errBadImage), errors.Is(err, touch.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrDetector):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errBadImage = errors.New("bad image")

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "touch counter API is live"})
	})
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/api/sessions")
	api.POST("", s.openSession)
	api.DELETE("/:sessionID", s.closeSession)
	api.POST("/:sessionID/frames", s.processFrame)
	api.GET("/:sessionID/touches", s.getTouches)
	api.POST("/:sessionID/reset", s.reset)
	api.GET("/:sessionID/events", s.listEvents)

	// Legacy single-session routes, bound to the default session.
	r.POST("/detect-football/", s.processFrame)
	r.POST("/reset-touches/", s.reset)
	r.GET("/touches/", s.getTouches)

	r.GET("/ws/:sessionID", s.stream)
	return r
}

func (s *Server) session(c *gin.Context) (*touch.Session, bool) {
	sess, err := s.registry.Get(c.Param("sessionID"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) openSession(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "open").Inc()
	sess := s.registry.Open()
	monitor.Sessions.Set(float64(s.registry.Len()))
	c.JSON(http.StatusOK, gin.H{
		"sessionID": sess.ID(),
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sess.ID()),
	})
}

func (s *Server) closeSession(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "close").Inc()
	if err := s.registry.Close(c.Param("sessionID")); err != nil {
		abortWithError(c, err)
		return
	}
	monitor.Sessions.Set(float64(s.registry.Len()))
	c.JSON(http.StatusOK, gin.H{"data": "Session released"})
}

func readUpload(c *gin.Context) ([]byte, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: no file uploaded", errBadImage)
	}
	if file.Size > maxImageBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", errBadImage, maxImageBytes)
	}
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadImage, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file content", errBadImage)
	}
	return data, nil
}

func (s *Server) processFrame(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "frame").Inc()
	sess, ok := s.session(c)
	if !ok {
		return
	}
	data, err := readUpload(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var seq uint64
	if v := c.PostForm("seq"); v != "" {
		seq, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seq"})
			return
		}
	}
	res, err := s.pipeline.Process(c.Request.Context(), sess, pipeline.Frame{Seq: seq, Image: data})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, frameJSON(res))
}

func (s *Server) getTouches(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "touches").Inc()
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"touches": sess.Touches()})
}

func (s *Server) reset(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "reset").Inc()
	sess, ok := s.session(c)
	if !ok {
		return
	}
	s.pipeline.Reset(c.Request.Context(), sess)
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) listEvents(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http", "events").Inc()
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event journal is disabled"})
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	events, err := s.journal.List(c.Request.Context(), sess.ID(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}
