// Package discord connects a Discord bot to the guardian. Messages the
// bot can see are normalized into signed payloads; the guardian answer
// is sent back to the originating channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

// Discord rejects messages over 2000 characters.
const maxMessageLen = 2000

// Adapter holds the Discord gateway session.
type Adapter struct {
	*channels.BaseAdapter
	session   *discordgo.Session
	botUserID string // populated on start
}

// New creates the Discord adapter from config. Fails when the bot token
// or channel secret is missing.
func New(cfg config.SocketAdapterConfig, guardianURL string) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("channel discord: DISCORD_BOT_TOKEN is empty")
	}
	fwd, err := channels.NewForwarder(guardianURL, "discord", cfg.Secret)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("discord", fwd, cfg.AllowedUsers),
		session:     session,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (a *Adapter) Start(ctx context.Context) error {
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, m)
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID

	a.SetRunning(true)
	slog.Info("channel.discord.connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	a.SetRunning(false)
	return a.session.Close()
}

func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}
	if !a.IsAllowed(m.Author.ID) {
		slog.Debug("channel.discord.rejected", "userId", m.Author.ID)
		return
	}
	if m.Content == "" {
		return
	}

	p := a.Forwarder().NewPayload(m.Author.ID, m.Content, map[string]any{
		"guildId":   m.GuildID,
		"channelId": m.ChannelID,
		"messageId": m.ID,
	})
	reply, err := a.Forwarder().Forward(ctx, p)
	if err != nil {
		slog.Error("channel.discord.forward", "error", err, "userId", m.Author.ID)
		a.sendChunked(m.ChannelID, "Sorry, I can't answer right now.")
		return
	}

	if err := a.sendChunked(m.ChannelID, reply.Answer); err != nil {
		slog.Error("channel.discord.send", "error", err, "channelId", m.ChannelID)
	}
}

// sendChunked sends a message, splitting at newlines when it exceeds the
// Discord length limit.
func (a *Adapter) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := lastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := a.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
