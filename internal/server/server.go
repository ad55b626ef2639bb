package server

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/httprunner/ActivityUploader/internal/feishusdk"
	"github.com/httprunner/ActivityUploader/pkg/uploader"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	EnvPort         = "PORT"
	EnvMaxBodyBytes = "MAX_BODY_BYTES"
	EnvShutdownWait = "SHUTDOWN_TIMEOUT"

	DefaultPort         = "3000"
	DefaultMaxBodyBytes = 10 << 20
	DefaultShutdownWait = 10 * time.Second
)

//go:embed web
var webFS embed.FS

// FeishuClient is the part of feishusdk.Client the handlers use.
type FeishuClient interface {
	ExchangeToken(ctx context.Context, appID, appSecret string) (string, error)
	Authorize(ctx context.Context, appID, appSecret string) (*feishusdk.Session, error)
}

// Options wires a Server.
type Options struct {
	Config        config.RemoteConfig
	Feishu        FeishuClient
	Publisher     uploader.AssetPublisher
	Recorder      uploader.Recorder
	RedactSecrets bool
	MaxBodyBytes  int64
	// ShutdownWait bounds how long Run drains in-flight requests.
	ShutdownWait time.Duration
}

// OptionsFromEnv fills the env driven knobs; callers still set the clients.
func OptionsFromEnv() Options {
	return Options{
		Config:        config.Load(),
		RedactSecrets: config.RedactSecrets(),
		MaxBodyBytes:  env.Int64(EnvMaxBodyBytes, DefaultMaxBodyBytes),
		ShutdownWait:  env.Duration(EnvShutdownWait, DefaultShutdownWait),
	}
}

// Server re-exposes the proxy handlers over conventional routes.
type Server struct {
	opts   Options
	engine *gin.Engine
}

// New builds the gin engine and registers every route.
func New(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ShutdownWait <= 0 {
		opts.ShutdownWait = DefaultShutdownWait
	}
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(requestLogger(), gin.Recovery(), allowCORS(), limitBody(opts.MaxBodyBytes))
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s := &Server{opts: opts, engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/", s.indexPage)

	api := r.Group("/api")
	{
		api.GET("/config", adapt(s.getConfig))
		api.POST("/github/upload", adapt(s.uploadAsset))

		api.POST("/feishu/access_token", adapt(s.accessToken))
		api.POST("/feishu/records/search", adapt(s.searchRecord))
		api.POST("/feishu/records/all", adapt(s.listRecords))
		api.POST("/feishu/records", adapt(s.createRecord))
		api.PUT("/feishu/records/:record_id", adapt(s.updateRecord))
		api.POST("/feishu/fields", adapt(s.listFields))

		api.POST("/submissions", s.createSubmission)
	}
}

// Handler exposes the engine for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", addr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen and serve")
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownWait)
		defer cancel()
		log.Info().Msg("api server shutting down")
		return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
	})
	return group.Wait()
}

func (s *Server) indexPage(c *gin.Context) {
	page, err := fs.ReadFile(webFS, "web/index.html")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "index page missing"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-Id", requestID)
		c.Next()

		evt := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Error()
		} else if c.Writer.Status() >= http.StatusBadRequest {
			evt = log.Warn()
		}
		evt.Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func allowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
