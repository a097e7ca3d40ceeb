package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	auditpostgres "github.com/snowchat/snowchat/internal/audit/postgres"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/migrations"
	"github.com/snowchat/snowchat/internal/observability"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("snowchat-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Audit.Enabled() {
		fmt.Fprintln(os.Stderr, "SNOWCHAT_AUDIT_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := auditpostgres.Open(ctx, cfg.Audit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %s\n", observability.Mask(err.Error()))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		ran, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", ran)
	case "down":
		ran, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", ran)
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		printStatus(os.Stdout, statuses)
		if err := runner.CheckCurrent(db)(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(3)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}

func printStatus(out io.Writer, statuses []migrations.Status) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, status := range statuses {
		state, appliedAt := "pending", "-"
		switch {
		case status.Orphaned:
			state = "unknown to this build"
		case status.Drifted:
			state = "checksum mismatch"
		case status.Applied:
			state = "applied"
		}
		if status.Applied {
			appliedAt = status.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", status.Version, status.Name, state, appliedAt)
	}
	_ = w.Flush()
}
