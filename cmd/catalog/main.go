package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"worksheethub/internal/auth"
	"worksheethub/internal/config"
	"worksheethub/internal/server"
	"worksheethub/internal/util"
	"worksheethub/pkg/catalog"
	"worksheethub/pkg/notify"
	"worksheethub/pkg/storage"
	"worksheethub/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	var notifications catalog.NotificationStore = dataStore
	var sink notify.Sink = dataStore
	if cfg.NotificationBackend == config.NotificationBackendRedis {
		redisStore := store.NewRedisNotificationStore(cfg.RedisAddr, cfg.RedisPassword)
		notifications = redisStore
		sink = redisStore
	}
	fanout := notify.New(dataStore, sink)

	service, err := catalog.New(catalog.Config{
		Store:         dataStore,
		Notifications: notifications,
		Objects:       objects,
		Notifier:      fanout,
		PresignExpiry: time.Duration(cfg.PresignExpiryMins) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init catalog service: %v", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Service:        service,
		Verifier:       verifier,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("catalog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
