package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/handlers"
	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/redis"
	"github.com/mossy-p/callrelay/internal/relay"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.Environment == "production")
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror relay.Mirror
	if cfg.PresenceMirror == config.MirrorRedis {
		if err := redis.Connect(ctx, cfg.Redis); err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer redis.Close()

		presence, err := redis.NewPresenceMirror(ctx, redis.GetClient())
		if err != nil {
			log.WithError(err).Fatal("failed to reset presence in Redis")
		}
		mirror = presence
		log.Info("Redis presence mirror enabled")
	}

	hub := relay.NewHub(mirror, log.WithField("component", "relay"))
	defer hub.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.Router(cfg, hub, log.WithField("component", "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to shut down cleanly")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":         cfg.Port,
		"require_auth": cfg.RequireAuth,
		"mirror":       cfg.PresenceMirror,
	}).Info("starting call signaling relay")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
}
