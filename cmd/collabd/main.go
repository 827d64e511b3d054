// Command collabd is the collaborative document sync server: it brings up
// the Document Registry, the cross-instance Bus, the Auth Gate, and the two
// HTTP surfaces (the WebSocket upgrade endpoint and the read-only Admin
// Surface), then serves until told to shut down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collabspace/collabd/internal/admin"
	"github.com/collabspace/collabd/internal/auth"
	"github.com/collabspace/collabd/internal/backplane"
	"github.com/collabspace/collabd/internal/bus"
	"github.com/collabspace/collabd/internal/config"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/logger"
	"github.com/collabspace/collabd/internal/middleware"
	"github.com/collabspace/collabd/internal/registry"
	"github.com/collabspace/collabd/internal/session"
	"github.com/collabspace/collabd/internal/transport"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	cache, err := backplane.NewClient(backplane.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		Enabled:  cfg.RedisEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis backplane")
	}
	defer cache.Close()

	messageBus, err := bus.New(bus.Config{
		URL:                    cfg.NATSURL,
		User:                   cfg.NATSUser,
		Password:               cfg.NATSPassword,
		Prefix:                 cfg.BusPrefix,
		ChunkThreshold:         cfg.BusChunkThreshold,
		ChunkReassemblyTimeout: cfg.BusChunkReassemblyTimeout,
		InstanceID:             cfg.InstanceID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize bus")
	}
	defer messageBus.Close()

	reg := registry.New(messageBus, cache, registry.Config{
		MaxHubs:          cfg.MaxHubs,
		MaxClientsPerHub: cfg.MaxClientsPerHub,
		IdleGrace:        cfg.IdleGrace,
	})

	gate := auth.NewGate(auth.Config{
		SecretKey:         cfg.JWTSecret,
		Issuer:            cfg.JWTIssuer,
		DefaultOpenPolicy: cfg.DefaultOpenPolicy,
	})

	var draining int32

	orchestrator := session.New(reg, gate, session.Config{
		Transport: transport.Config{
			PingInterval:     cfg.PingInterval,
			OutboundQueueCap: cfg.OutboundQueueCap,
		},
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	wsRouter.Use(middleware.RequestID())
	wsRouter.Use(limiter.Middleware())
	wsRouter.GET("/:documentId", func(c *gin.Context) {
		if atomic.LoadInt32(&draining) == 1 {
			collaberrors.AbortWithError(c, collaberrors.Shutdown())
			return
		}
		orchestrator.Handle(c)
	})

	adminSurface := admin.New(reg, cache, messageBus.InstanceID(), func() bool {
		return atomic.LoadInt32(&draining) == 0
	})

	wsServer := &http.Server{Addr: ":" + cfg.WSPort, Handler: wsRouter}
	adminServer := &http.Server{Addr: ":" + cfg.HTTPAdminPort, Handler: adminSurface.Router()}

	go func() {
		log.Info().Str("port", cfg.WSPort).Msg("websocket listener starting")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("websocket listener failed")
		}
	}()

	go func() {
		log.Info().Str("port", cfg.HTTPAdminPort).Msg("admin listener starting")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin listener failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutdown signal received, draining")
	atomic.StoreInt32(&draining, 1)

	reg.Drain(cfg.DrainDeadline)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainDeadline)
	defer cancel()

	if err := wsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("websocket listener did not drain cleanly")
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin listener did not drain cleanly")
	}

	log.Info().Msg(fmt.Sprintf("collabd instance %s shut down", messageBus.InstanceID()))
}
