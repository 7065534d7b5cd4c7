package main

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/peterouob/pionCall/pkg/auth"
	"github.com/peterouob/pionCall/pkg/config"
	"github.com/peterouob/pionCall/pkg/relay"
	"github.com/peterouob/pionCall/pkg/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("[main] load config err:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalln("[main] invalid config:", err)
	}

	lf := cfg.LoggerFactory()
	logger := lf.NewLogger("relay")

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalln("[main] auth err:", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewPrometheusCollector(promReg)

	registry := relay.NewRegistry()
	defer registry.Close()
	router := relay.NewRouter(registry, metrics, nil, logger)

	ws := websocket.NewServer(router, issuer, websocket.Options{
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		Burst:             cfg.Relay.Burst,
		MaxMessageSize:    cfg.Relay.MaxMessageSize,
		PongWait:          cfg.Relay.PongWait,
		PingPeriod:        cfg.Relay.PingPeriod,
		WriteWait:         cfg.Relay.WriteWait,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, lf.NewLogger("websocket"))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(cfg.Relay.Path, gin.WrapH(ws))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": registry.Clients()})
	})
	engine.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.Calls())
	})
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	handler := withCORS(cfg.Server.AllowedOrigins, engine)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("[main] relay listening on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[main] listen err: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("[main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[main] shutdown err: %v", err)
	}
}

// withCORS allows browser clients from origins to reach the relay. Tokens
// travel in the Authorization header or query, never in cookies.
func withCORS(origins []string, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Authorization"},
	}).Handler(h)
}
