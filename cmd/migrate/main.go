// Database migration CLI tool for the trade journal and audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/femasgate/internal/api"
	"github.com/ajitpratap0/femasgate/internal/audit"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/journal"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate, status, create-key or revoke-key")
	configPath := flag.String("config", "", "Path to the config file")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Database connection URL (overrides the config file)")
	keyName := flag.String("name", "", "API key name (create-key)")
	keyUser := flag.String("user", "", "User the API key belongs to (create-key)")
	keyPerms := flag.String("permissions", "trading,market", "Comma separated API key permissions (create-key)")
	keyTTL := flag.Duration("ttl", 0, "API key lifetime, 0 never expires (create-key)")
	keyID := flag.String("id", "", "API key id (revoke-key)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := journal.Open(ctx, cfg.Database.GetDSN(), 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch *command {
	case "migrate":
		if err := store.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		if err := audit.NewLogger(store.DB(), true).Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		if err := api.NewAPIKeyStore(store.DB()).Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied")
	case "create-key":
		keys := api.NewAPIKeyStore(store.DB())
		if err := keys.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		var perms []string
		for _, p := range strings.Split(*keyPerms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms = append(perms, p)
			}
		}
		plain, key, err := keys.CreateKey(ctx, *keyName, *keyUser, perms, *keyTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create API key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created API key %s for %s\n", key.ID, key.UserID)
		fmt.Printf("Key (shown once): %s\n", plain)
	case "revoke-key":
		id, err := uuid.Parse(*keyID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid key id: %v\n", err)
			os.Exit(1)
		}
		found, err := api.NewAPIKeyStore(store.DB()).RevokeKey(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to revoke API key: %v\n", err)
			os.Exit(1)
		}
		if !found {
			fmt.Fprintf(os.Stderr, "No API key with id %s\n", id)
			os.Exit(1)
		}
		fmt.Printf("Revoked API key %s\n", id)
	case "status":
		counts, err := store.CountRows(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
			os.Exit(1)
		}
		tables := make([]string, 0, len(counts))
		for t := range counts {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Printf("%-20s %d rows\n", t, counts[t])
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Usage: migrate -command=[migrate|status|create-key|revoke-key]\n")
		os.Exit(1)
	}
}
