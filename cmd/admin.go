package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openpalm/openpalm/internal/admin"
	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/automations"
	"github.com/openpalm/openpalm/internal/bus"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/state"
	"github.com/openpalm/openpalm/internal/syncer"
)

func adminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "Run the admin control plane",
		Run: func(cmd *cobra.Command, args []string) {
			runAdmin()
		},
	}
}

func runAdmin() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("admin config", "error", err)
		os.Exit(1)
	}
	paths := state.DefaultPaths()
	if err := paths.EnsureDirs(); err != nil {
		slog.Error("admin dirs", "error", err)
		os.Exit(1)
	}

	// A token persisted via /setup survives restarts through secrets.env.
	if cfg.Admin.Token == "" {
		stored, err := secrets.ParseFile(paths.SecretsFile())
		if err != nil {
			slog.Error("admin secrets", "error", err)
			os.Exit(1)
		}
		cfg.Admin.Token = stored["ADMIN_TOKEN"]
	}

	auditPath := cfg.Admin.AuditPath
	if auditPath == "" {
		auditPath = paths.AuditDir() + "/admin.jsonl"
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		slog.Error("admin audit", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	eventBus := bus.New()
	syncProvider := syncer.ForName(cfg.Sync.Provider, paths.StateHome)

	srv, err := admin.NewServer(cfg.Admin, paths, auditLog, eventBus, syncProvider)
	if err != nil {
		slog.Error("admin", "error", err)
		os.Exit(1)
	}

	runner := &automations.Runner{AdminPort: cfg.Admin.Port, AdminToken: cfg.Admin.Token}
	sched := automations.NewScheduler(paths.AutomationsDir(), runner)
	srv.SetScheduler(sched)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error { return sched.Start(ctx) })
	g.Go(func() error { return sched.Watch(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("admin", "error", err)
		os.Exit(1)
	}
}
