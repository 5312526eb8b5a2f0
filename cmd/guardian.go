package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/openpalm/openpalm/internal/assistant"
	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/internal/guardian"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/state"
	"github.com/openpalm/openpalm/internal/telemetry"
)

func guardianCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guardian",
		Short: "Run the guardian trust boundary",
		Run: func(cmd *cobra.Command, args []string) {
			runGuardian()
		},
	}
}

func runGuardian() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("guardian config", "error", err)
		os.Exit(1)
	}
	paths := state.DefaultPaths()

	secretTable, err := secrets.ChannelSecrets(paths.SecretsFile())
	if err != nil {
		slog.Error("guardian secrets", "error", err)
		os.Exit(1)
	}
	if len(secretTable) == 0 {
		slog.Warn("guardian has no channel secrets; every inbound request will be rejected")
	}

	auditPath := cfg.Guardian.AuditPath
	if auditPath == "" {
		auditPath = paths.AuditDir() + "/guardian.jsonl"
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		slog.Error("guardian audit", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("guardian telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	srv := guardian.NewServer(cfg.Guardian, secretTable, assistant.New(cfg.Assistant), auditLog)
	if cfg.Telemetry.Enabled {
		srv.SetTracer(otel.Tracer("guardian"))
	}

	if err := srv.Start(ctx); err != nil {
		slog.Error("guardian", "error", err)
		os.Exit(1)
	}
}
