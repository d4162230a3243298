package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/observability"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/relay"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7410", "listen address")
	flag.Parse()

	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string) error {
	logger := logging.Component("relayd")
	hub := relay.NewHub()
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(relay.NewServer(hub)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info().Str("addr", addr).Msg("relay listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Int("topics", hub.Topics()).Msg("relay shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// newRouter mounts the websocket relay at the root next to health and metrics.
func newRouter(rs *relay.Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logging.Component("relayd.http"), nil))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": rs.Hub().Topics()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/", gin.WrapH(rs))
	return r
}
