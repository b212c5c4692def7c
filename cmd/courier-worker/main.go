package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"courier/internal/broker"
	"courier/internal/kvstore"
	"courier/internal/sandbox"
	"courier/internal/worker"
	"courier/pkg/utils/logger"
)

const defaultConfigPath = "configs/courier.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := kvstore.NewRedisStoreWithConfig(appCfg.Redis.toStoreConfig())
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = store.Close()
	}()

	kafkaBroker, err := broker.NewKafkaBroker(appCfg.Kafka.toBrokerConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = kafkaBroker.Close()
	}()

	app := sandbox.NewApp(appCfg.Sandbox, store, nil)
	appWorker := worker.NewApplicationWorker(appCfg.Sandbox.ApplicationConfig, kafkaBroker, nil, app)
	app.BindWorker(appWorker)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := appWorker.Start(shutdownCtx); err != nil {
		logger.Error(context.Background(), "start worker failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, appWorker, store, kafkaBroker)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker status server started",
			zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if err := appWorker.Stop(ctx); err != nil {
		logger.Error(context.Background(), "worker stop failed", zap.Error(err))
	}
	_ = kafkaBroker.Stop()
}

func buildHTTPServer(cfg ServerConfig, appWorker *worker.ApplicationWorker, store kvstore.Store, b broker.Broker) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(traceContext())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "reason": "redis: " + err.Error()})
			return
		}
		if err := b.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "reason": "kafka: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1/worker")
	api.GET("/status", func(c *gin.Context) {
		cfg := appWorker.AppConfig()
		c.JSON(http.StatusOK, gin.H{
			"worker_name":    cfg.WorkerName,
			"system_id":      cfg.SystemID,
			"transport_name": cfg.TransportName,
			"connectors":     appWorker.ConnectorStates(),
		})
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// traceContext puts a trace id into the request context and echoes it
// in the response headers.
func traceContext() gin.HandlerFunc {
	const traceIDHeader = "X-Trace-Id"
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), "trace_id", traceID) //nolint:staticcheck
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
