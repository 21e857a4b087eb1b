// Command migrate manages the outcome ledger schema.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/internal/ledger"
)

const envURL = "PUBSYNC_DB_URL"

func main() {
	var (
		url        = flag.String("url", "", "Postgres URL (default: $PUBSYNC_DB_URL, then the database section of -config)")
		configPath = flag.String("config", "", "Config file providing the database section")
		up         = flag.Bool("up", false, "Run all up migrations")
		down       = flag.Bool("down", false, "Run all down migrations")
		steps      = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version    = flag.Bool("version", false, "Print current migration version")
		force      = flag.Int("force", -1, "Force set version (use with caution)")
	)
	flag.Parse()

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	target, err := resolveURL(*url, *configPath)
	if err != nil {
		log.Fatalf("resolve database url: %v", err)
	}

	m, err := ledger.NewMigrator(target)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("failed to get version: %v", err)
		}
		fmt.Printf("version: %d, dirty: %v\n", v, dirty)
	case forceSet:
		if err := m.Force(*force); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		fmt.Printf("forced to version %d\n", *force)
	case *up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run up migrations: %v", err)
		}
		fmt.Println("ledger schema up to date")
	case *down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run down migrations: %v", err)
		}
		fmt.Println("ledger schema removed")
	case *steps != 0:
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run migrations: %v", err)
		}
		fmt.Printf("applied %d migration steps\n", *steps)
	default:
		fmt.Println("usage: migrate [-url <postgres-url> | -config <file>] [-up|-down|-steps N|-version|-force N]")
		flag.PrintDefaults()
	}
}

// resolveURL prefers the flag, then the environment, then the finalized config.
func resolveURL(flagURL, configPath string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if v := os.Getenv(envURL); v != "" {
		return v, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if !cfg.Database.Enabled {
		return "", fmt.Errorf("database disabled in config; pass -url or set %s", envURL)
	}
	return cfg.Database.URL(), nil
}
