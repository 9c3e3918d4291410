package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"jobbridge/internal/api"
	"jobbridge/internal/auth"
	"jobbridge/internal/config"
	"jobbridge/internal/database"
	"jobbridge/internal/ranking"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("api bootstrapped",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
		slog.String("ranking_base_url", cfg.Ranking.BaseURL),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logger.Error("init database failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database connection ready")

	if err := db.AutoMigrate(
		&database.Identity{},
		&database.JobSeekerProfile{},
		&database.EmployerProfile{},
		&database.Job{},
		&database.Application{},
	); err != nil {
		logger.Error("auto migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database migrated")

	publicKeyPEM, err := os.ReadFile(cfg.Auth.ProviderPublicKeyFile)
	if err != nil {
		logger.Error("read provider public key failed", slog.Any("error", err))
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(publicKeyPEM)
	if err != nil {
		logger.Error("init assertion verifier failed", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
	})
	sessions := auth.NewSessionStore(redisClient, cfg.Auth.SessionTTL())

	rankingClient := ranking.NewClient(cfg.Ranking.BaseURL, cfg.Ranking.Timeout())

	router := api.NewRouter(logger)
	api.RegisterRoutes(
		router,
		db,
		sessions,
		verifier,
		rankingClient,
		redisClient,
		logger,
		cfg.Uploads.MaxResumeBytes,
		cfg.Uploads.ClamdAddr,
	)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))

	if err := router.Run(address); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
