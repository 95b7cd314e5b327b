package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/kidguard-api/pkg/config"
	"github.com/noah-isme/kidguard-api/pkg/database"
	"github.com/noah-isme/kidguard-api/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "migrations directory (defaults to the embedded set)")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	migrationsDir := *dir
	if migrationsDir == "" {
		migrationsDir = cfg.Database.MigrationsDir
	}
	if err := database.Migrate(db.DB, command, migrationsDir); err != nil {
		logr.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
	logr.Info("migration complete", zap.String("command", command))
}
