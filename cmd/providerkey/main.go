package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"mediarecon/internal/infra"
	"mediarecon/internal/infra/credentials"
)

func main() {
	var (
		keyFlag    string
		driverFlag string
		noteFlag   string
	)
	flag.StringVar(&keyFlag, "key", "", "generation provider API key (falls back to PROVIDER_API_KEY)")
	flag.StringVar(&driverFlag, "driver", "", "database driver, postgres or sqlite (falls back to DATABASE_DRIVER)")
	flag.StringVar(&noteFlag, "note", "", "optional note stored alongside the key")
	flag.Parse()

	_ = godotenv.Load()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("PROVIDER_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "provider API key is required via -key or PROVIDER_API_KEY")
		os.Exit(1)
	}

	driver := strings.ToLower(strings.TrimSpace(driverFlag))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(os.Getenv("DATABASE_DRIVER")))
	}
	if driver == "" {
		driver = infra.DriverPostgres
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" && driver == infra.DriverPostgres {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("driver", driver).Logger()

	var store *credentials.Store
	switch driver {
	case infra.DriverSQLite:
		if dbURL == "" {
			dbURL = "./data/mediarecon.db"
		}
		db, err := infra.OpenSQLite(ctx, dbURL, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open sqlite database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		store = credentials.NewSQLiteStore(infra.NewSQLiteRunner(db, logger))
	case infra.DriverPostgres:
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = credentials.NewStore(infra.NewSQLRunner(pool, logger))
	default:
		fmt.Fprintf(os.Stderr, "unsupported driver %q\n", driver)
		os.Exit(1)
	}

	var props map[string]any
	if note := strings.TrimSpace(noteFlag); note != "" {
		props = map[string]any{"note": note}
	}
	if err := store.SetProviderAPIKey(ctx, key, props); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist provider api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("provider API key stored successfully")
}
