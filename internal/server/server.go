// Package server exposes the conversion service over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"dicomconv/internal/apperr"
	"dicomconv/internal/auth"
	"dicomconv/internal/convert"
)

// Server wires the HTTP routes to the conversion service.
type Server struct {
	Convert *convert.Service
	Auth    *auth.Handler
	Tokens  auth.TokenService
	APIKeys auth.APIKeys
	DB      *sql.DB
	Logger  hclog.Logger

	CORSOrigins []string
	// TrustedProxies may set client addresses through forwarding headers;
	// none are trusted when empty.
	TrustedProxies []string
	MaxUploadBytes int64
}

func (s *Server) logger() hclog.Logger {
	if s.Logger == nil {
		return hclog.NewNullLogger()
	}
	return s.Logger
}

// Router builds the gin engine. /health and /login are public; everything
// else requires an API key or bearer token.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if err := r.SetTrustedProxies(s.TrustedProxies); err != nil {
		s.logger().Warn("invalid trusted proxies; trusting none", "proxies", s.TrustedProxies, "error", err)
		if err := r.SetTrustedProxies(nil); err != nil {
			s.logger().Error("could not reset trusted proxies", "error", err)
		}
	}

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", auth.APIKeyHeader)
	if len(s.CORSOrigins) == 0 || (len(s.CORSOrigins) == 1 && s.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.health)
	if s.Auth != nil {
		s.Auth.RegisterRoutes(r.Group(""))
	}

	api := r.Group("")
	api.Use(auth.Middleware(s.Tokens, s.APIKeys, s.logger().Named("auth")), s.limitBody())
	api.POST("/convert", s.convert)
	api.POST("/convert-batch", s.convertBatch)
	api.POST("/metadata", s.metadata)
	api.POST("/metadata-batch", s.metadataBatch)
	api.POST("/convert-to-dicom", s.toDICOM)
	api.POST("/convert-to-dicom-batch", s.toDICOMBatch)
	api.GET("/artifacts/:name", s.artifact)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	log := s.logger().Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUploadBytes)
		}
		c.Next()
	}
}

// Run serves on addr until ctx is cancelled, then shuts down within timeout
// and purges staged and published files.
func (s *Server) Run(ctx context.Context, addr string, timeout time.Duration) error {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger().Info("HTTP API server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger().Info("shutdown signal received")
	case serveErr = <-errCh:
		s.logger().Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger().Warn("http shutdown error", "error", err)
	}

	s.purge()
	s.logger().Info("server stopped")
	return serveErr
}

func (s *Server) purge() {
	if s.Convert == nil {
		return
	}
	if s.Convert.Staging != nil {
		if err := s.Convert.Staging.Close(); err != nil {
			s.logger().Warn("could not purge staging area", "error", err)
		}
	}
	if s.Convert.Store != nil {
		if err := s.Convert.Store.Close(); err != nil {
			s.logger().Warn("could not purge artifacts", "error", err)
		}
	}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.UnsupportedFormat:
		return http.StatusBadRequest
	case apperr.DecodeFailure:
		return http.StatusUnprocessableEntity
	case apperr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(statusFor(kind), gin.H{"error": apperr.Message(err), "kind": kind})
}
