package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/strataline/strata/pkg/storage"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: strata-sweep <command> <db-path>")
		fmt.Println("Commands:")
		fmt.Println("  cleanup   delete relationships whose expiry has passed")
		fmt.Println("  reindex   rebuild secondary indexes for every registered schema")
		fmt.Println("Example: strata-sweep cleanup ./strata.db")
		os.Exit(1)
	}

	command := os.Args[1]
	dbPath := os.Args[2]

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database does not exist: %s", dbPath)
	}

	backend, err := storage.NewBackend("sqlite", map[string]interface{}{
		"db_path": dbPath,
	})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()

	switch command {
	case "cleanup":
		if err := cleanup(ctx, backend); err != nil {
			log.Fatal(err)
		}
	case "reindex":
		if err := reindex(ctx, backend); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown command: %s", command)
	}
}

func cleanup(ctx context.Context, backend storage.Backend) error {
	count, err := backend.DeleteExpiredRelationships(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Deleted %d expired relationships\n", count)
	return nil
}

func reindex(ctx context.Context, backend storage.Backend) error {
	schemas, err := backend.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schemas: %w", err)
	}

	for _, schema := range schemas {
		fmt.Printf("Reindexing %s", schema.Hash[:12])
		if schema.Alias != "" {
			fmt.Printf(" (%s)", schema.Alias)
		}
		fmt.Println("...")

		if err := backend.EnsureIndexes(ctx, schema); err != nil {
			return fmt.Errorf("failed to reindex %s: %w", schema.Hash, err)
		}
	}

	fmt.Printf("Reindexed %d schemas\n", len(schemas))
	return nil
}
