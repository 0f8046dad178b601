package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/database"
	"github.com/stemsi/exam-runner/internal/logger"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup("exam-runner-migrate", cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	// The common path logs the resulting version itself.
	if args[0] == "up" {
		if err := database.MigrateUp(cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Up failed")
		}
		return
	}

	m, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed to initialize")
	}
	defer m.Close()

	switch args[0] {
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Down failed")
		}
		log.Info().Msg("Rolled back one migration")
	case "drop":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Down failed")
		}
		log.Info().Msg("Rolled back all migrations")
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatal().Err(err).Msg("Version failed")
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal().Msg("force requires version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid version")
		}
		if err := m.Force(v); err != nil {
			log.Fatal().Err(err).Msg("Force failed")
		}
		log.Info().Int("version", v).Msg("Forced version")
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands: up, down, drop, version, force <version>")
	fmt.Println("Migrations are embedded in the binary; DATABASE_URL selects the target.")
}
