// Package statusapi exposes a session Manager over HTTP: health, metrics,
// session and pairing views, and signing endpoints for local tooling.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/auth"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ledger"
	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/observability"
	"github.com/AquaToken/dao-aquarius-sub003/internal/session"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Signer is the Manager surface served over HTTP.
type Signer interface {
	Snapshot() session.Snapshot
	Pairings() []signclient.Pairing
	SignTx(ctx context.Context, tx ledger.Transaction) (string, error)
	SignAndSubmitTx(ctx context.Context, tx ledger.Transaction) (session.SubmitResult, error)
	Logout(ctx context.Context) error
}

var _ Signer = (*session.Manager)(nil)

type Server struct {
	Addr     string
	Appeared time.Time

	signer    Signer
	validator auth.Validator
	router    *gin.Engine
	logger    zerolog.Logger
}

func New(addr string, corsOrigins []string, signer Signer) *Server {
	observability.RegisterMetrics()
	logger := logging.Component("statusapi")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, func() string { return signer.Snapshot().State }))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(corsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Appeared: time.Now(),
		signer:   signer,
		router:   r,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// RequireToken guards the signing and logout routes with v.
func (s *Server) RequireToken(v auth.Validator) {
	s.validator = v
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", s.Addr).Msg("status api listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type txRequest struct {
	XDR string `json:"xdr" binding:"required"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"state":   s.signer.Snapshot().State,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.signer.Snapshot())
	})

	s.router.GET("/pairings", func(c *gin.Context) {
		list := s.signer.Pairings()
		out := make([]gin.H, 0, len(list))
		for _, p := range list {
			out = append(out, gin.H{
				"topic":      p.Topic,
				"peer":       p.Peer,
				"created_at": p.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"pairings": out})
	})

	guarded := s.router.Group("", func(c *gin.Context) {
		auth.RequireBearer(s.validator)(c)
	})

	guarded.POST("/tx/sign", func(c *gin.Context) {
		tx, ok := s.bindTx(c)
		if !ok {
			return
		}
		signed, err := s.signer.SignTx(c.Request.Context(), tx)
		if err != nil {
			s.fail(c, "sign", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"signed_xdr": signed})
	})

	guarded.POST("/tx/submit", func(c *gin.Context) {
		tx, ok := s.bindTx(c)
		if !ok {
			return
		}
		res, err := s.signer.SignAndSubmitTx(c.Request.Context(), tx)
		if err != nil {
			s.fail(c, "submit", err)
			return
		}
		status := http.StatusOK
		if res.Status == session.SubmitPending {
			status = http.StatusAccepted
		}
		c.JSON(status, gin.H{"status": res.Status, "result": res.Raw})
	})

	guarded.POST("/logout", func(c *gin.Context) {
		if err := s.signer.Logout(c.Request.Context()); err != nil {
			s.fail(c, "logout", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) bindTx(c *gin.Context) (ledger.Transaction, bool) {
	var req txRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "xdr is required"})
		return nil, false
	}
	tx, err := ledger.ParseEnvelope(req.XDR)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return tx, true
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusConflict
	case signclient.IsUserRejected(err):
		status = http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn().Err(err).Str("op", op).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
