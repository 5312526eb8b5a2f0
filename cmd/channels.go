package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/channels/a2a"
	"github.com/openpalm/openpalm/internal/channels/api"
	"github.com/openpalm/openpalm/internal/channels/chat"
	"github.com/openpalm/openpalm/internal/channels/discord"
	"github.com/openpalm/openpalm/internal/channels/telegram"
	"github.com/openpalm/openpalm/internal/config"
)

func channelsCmd() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Run the channel adapter set",
		Run: func(cmd *cobra.Command, args []string) {
			runChannels(only)
		},
	}
	cmd.Flags().StringVar(&only, "only", "", "run a single adapter (api, a2a, chat, discord, telegram)")
	return cmd
}

func runChannels(only string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("channels config", "error", err)
		os.Exit(1)
	}

	enabled := func(name string, on bool) bool {
		if only != "" {
			return name == only
		}
		return on
	}

	mgr := channels.NewManager()
	adapters := cfg.Adapters

	if enabled("api", adapters.API.Enabled) {
		a, err := api.New(adapters.API, adapters.GuardianURL)
		if err != nil {
			slog.Error("channel api", "error", err)
			os.Exit(1)
		}
		mgr.RegisterHTTP(a, adapters.API.Host, adapters.API.Port)
	}
	if enabled("a2a", adapters.A2A.Enabled) {
		a, err := a2a.New(adapters.A2A, adapters.GuardianURL, os.Getenv("A2A_PUBLIC_URL"))
		if err != nil {
			slog.Error("channel a2a", "error", err)
			os.Exit(1)
		}
		mgr.RegisterHTTP(a, adapters.A2A.Host, adapters.A2A.Port)
	}
	if enabled("chat", adapters.Chat.Enabled) {
		a, err := chat.New(adapters.Chat, adapters.GuardianURL)
		if err != nil {
			slog.Error("channel chat", "error", err)
			os.Exit(1)
		}
		mgr.RegisterHTTP(a, adapters.Chat.Host, adapters.Chat.Port)
	}
	if enabled("discord", adapters.Discord.Enabled) {
		a, err := discord.New(adapters.Discord, adapters.GuardianURL)
		if err != nil {
			slog.Error("channel discord", "error", err)
			os.Exit(1)
		}
		mgr.RegisterSocket(a)
	}
	if enabled("telegram", adapters.Telegram.Enabled) {
		a, err := telegram.New(adapters.Telegram, adapters.GuardianURL)
		if err != nil {
			slog.Error("channel telegram", "error", err)
			os.Exit(1)
		}
		mgr.RegisterSocket(a)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Run(ctx); err != nil {
		slog.Error("channels", "error", err)
		os.Exit(1)
	}
}
