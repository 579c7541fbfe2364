package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/congo-pay/settlement/internal/config"
	"github.com/congo-pay/settlement/internal/logging"
	"github.com/congo-pay/settlement/internal/migrations"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("migrate", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.AppName+"-migrate", cfg.LogLevel)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := migrations.Run(ctx, db, *cmd, flag.Args()...); err != nil {
		logger.Error().Err(err).Str("cmd", *cmd).Msg("migration failed")
		cancel()
		os.Exit(1)
	}
	logger.Info().Str("cmd", *cmd).Msg("migration complete")
}
