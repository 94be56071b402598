// Command server runs the Parley chat relay.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("opening database failed", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	messages := store.NewMessageStore(db)
	users := store.NewUserDirectory(db)

	hub := server.NewHub(server.HubConfig{
		Messages:         messages,
		RoomHistoryLimit: cfg.RoomHistoryLimit,
		Logger:           logger,
	})
	go hub.Run()

	srv := server.New(server.Config{
		Hub:      hub,
		Users:    users,
		Messages: messages,
		Hasher:   auth.NewPasswordHasher(),
		Tokens:   auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL),
		Logger:   logger,
		Runtime:  cfg,
	})

	httpServer := server.CreateServer(cfg.Port, srv.Router())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("received signal; shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Error("hub shutdown incomplete", "error", err)
	}
}
