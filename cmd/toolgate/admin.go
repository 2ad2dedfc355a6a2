package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/Strob0t/toolgate/internal/adapter/builtin"
	tgnats "github.com/Strob0t/toolgate/internal/adapter/nats"
	"github.com/Strob0t/toolgate/internal/adapter/postgres"
	"github.com/Strob0t/toolgate/internal/adapter/ristretto"
	"github.com/Strob0t/toolgate/internal/config"
	"github.com/Strob0t/toolgate/internal/port/messagequeue"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
	"github.com/Strob0t/toolgate/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "status":
		return runAdminStatus(args[1:])
	case "tools":
		return runAdminTools(args[1:])
	case "credit":
		return runAdminCredit(args[1:])
	case "replay":
		return runAdminReplay(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: toolgate admin <command> [options]

Commands:
  migrate    Apply pending database migrations
  rollback   Roll back the most recent migrations
  status     Show the current migration version
  tools      List stored tool definitions
  credit     Show a user's credit pool and ledger
  replay     Process unprocessed events once and exit
  help       Show this help message

Output is a table on a terminal and JSON otherwise; --json forces JSON.

Examples:
  toolgate admin migrate
  toolgate admin rollback --steps 2
  toolgate admin tools --json
  toolgate admin credit --user u-123 --since 2026-01-01T00:00:00Z
  toolgate admin replay --limit 100
`)
}

func connectAdmin(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, nil
}

// useJSON reports whether output should be JSON rather than a table.
func useJSON(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	n, err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Applied %d migration(s)\n", n)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Printf("schema version: %d\n", v)
	return nil
}

func runAdminTools(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	_, pool, err := connectAdmin(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	defs, err := postgres.NewStore(pool).ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	if useJSON(*asJSON) {
		return printJSON(defs)
	}
	if len(defs) == 0 {
		fmt.Println("No tools registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tENABLED\tIMPLEMENTATION\tCOST\tTRIGGERS\tRUNS\tSUCCESS\tVERSION")
	for i := range defs {
		d := &defs[i]
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\t%d\t%.0f%%\t%d\n",
			d.Name, d.Enabled, d.ImplementationRef, d.CostPerExecution, len(d.Triggers),
			d.Meta.ExecutionCount, d.Meta.SuccessRate*100, d.Version)
	}
	return w.Flush()
}

func runAdminCredit(args []string) error {
	fs := flag.NewFlagSet("credit", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	since := fs.String("since", "", "only list entries at or after this RFC3339 time")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	var from time.Time
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		from = t
	}

	ctx := context.Background()
	_, pool, err := connectAdmin(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	p, err := store.GetCreditPool(ctx, *userID)
	if err != nil {
		return fmt.Errorf("get credit pool: %w", err)
	}
	txns, err := store.ListCreditTransactions(ctx, *userID, from)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	ledger, err := store.LedgerBalance(ctx, *userID)
	if err != nil {
		return fmt.Errorf("ledger balance: %w", err)
	}

	if useJSON(*asJSON) {
		p.Transactions = txns
		return printJSON(p)
	}

	fmt.Printf("user:     %s\nbalance:  %d %s (ledger %d)\nactive:   %t\nverified: %t\nlimits:   daily=%d weekly=%d monthly=%d per_tx=%d\n\n",
		p.UserID, p.Balance, p.Currency, ledger, p.IsActive, p.IsVerified,
		p.Settings.SpendingLimits.Daily, p.Settings.SpendingLimits.Weekly,
		p.Settings.SpendingLimits.Monthly, p.Settings.SpendingLimits.PerTransaction)
	if ledger != p.Balance {
		fmt.Fprintln(os.Stderr, "warning: cached balance differs from ledger")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tTYPE\tAMOUNT\tSTATUS\tTOOL\tTASK\tDESCRIPTION")
	for i := range txns {
		t := &txns[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format(time.RFC3339), t.Type, t.Amount, t.Status, t.ToolName, t.TaskID, t.Description)
	}
	return w.Flush()
}

// runAdminReplay processes unprocessed events in the foreground, with the
// same registry, limiter and budget rules as the server but without live
// outcome delivery. It refuses to run while a server holds the event
// consumer lock.
func runAdminReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum number of events to replay (default engine.replay_batch)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, pool, err := connectAdmin(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	lock := postgres.NewAdvisoryLock(pool, postgres.EventConsumerLockKey)
	held, err := lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("consumer lock: %w", err)
	}
	if !held {
		return fmt.Errorf("a running server holds the event consumer lock; stop it or let it replay")
	}
	defer func() { _ = lock.Release(ctx) }()

	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		nq, err := tgnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Drain() }()
		queue = nq
	}

	plugins := plugin.NewRegistry()
	if err := builtin.Register(plugins, builtin.Deps{
		Queue:          queue,
		HTTPClient:     &http.Client{},
		WebhookTimeout: cfg.Tools.WebhookTimeout,
	}); err != nil {
		return fmt.Errorf("builtin capabilities: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	store := postgres.NewStore(pool)
	registry := service.NewToolRegistry(store, l1, plugins, cfg.Cache.SnapshotTTL)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load tools: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxCalls)
	budget := service.NewBudgetGuard(store, nil, cfg.Budget.MaxCommitRetries)
	executor := service.NewToolExecutor(store, registry, plugins, limiter, budget, nil, cfg.Engine.ToolTimeout)
	engine := service.NewTriggerEngine(store, registry, executor, nil, nil)

	batch := cfg.Engine.ReplayBatch
	if *limit > 0 {
		batch = *limit
	}
	events := service.NewEventQueue(store, engine, nil, service.QueueOptions{ReplayBatch: batch})

	scheduled, err := events.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	processed := events.Drain(ctx)
	fmt.Fprintf(os.Stderr, "Scheduled %d event(s), processed %d\n", scheduled, processed)
	return nil
}
