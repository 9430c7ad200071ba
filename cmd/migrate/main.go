// Утилита управления схемой PostgreSQL: migrate [up|down|status].
// DSN берётся из -dsn либо из FLASHSALE_POSTGRES_DSN.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

func main() {
	var (
		dsn   string
		steps int
	)
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: FLASHSALE_POSTGRES_DSN)")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0 = all for up, 1 for down)")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = strings.ToLower(flag.Arg(0))
	}

	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("FLASHSALE_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("FLASHSALE_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			fail("migrate up failed: %v", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			fail("migrate down failed: %v", err)
		}
	case "status":
	default:
		fail("unknown command %q (use up|down|status)", command)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		fail("migration status failed: %v", err)
	}
	fmt.Printf("%s ok: schema version %d, %d migrations applied\n", command, version, applied)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
