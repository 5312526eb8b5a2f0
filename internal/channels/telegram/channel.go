// Package telegram connects a Telegram bot to the guardian via long
// polling. Each update is normalized into a signed payload and the
// guardian answer is sent back to the originating chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

// Adapter holds the Telegram bot and its polling loop.
type Adapter struct {
	*channels.BaseAdapter
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the Telegram adapter from config. Fails when the bot
// token or channel secret is missing.
func New(cfg config.SocketAdapterConfig, guardianURL string) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("channel telegram: TELEGRAM_BOT_TOKEN is empty")
	}
	fwd, err := channels.NewForwarder(guardianURL, "telegram", cfg.Secret)
	if err != nil {
		return nil, err
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("telegram", fwd, cfg.AllowedUsers),
		bot:         bot,
	}, nil
}

// Start begins long polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	a.SetRunning(true)
	slog.Info("channel.telegram.connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					a.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the polling loop and waits for it to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	a.SetRunning(false)
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.From.IsBot || m.Text == "" {
		return
	}

	senderID := strconv.FormatInt(m.From.ID, 10)
	if !a.IsAllowed(senderID) && !a.IsAllowed(m.From.Username) {
		slog.Debug("channel.telegram.rejected", "userId", senderID)
		return
	}

	p := a.Forwarder().NewPayload(senderID, m.Text, map[string]any{
		"chatId":    m.Chat.ID,
		"messageId": m.MessageID,
		"username":  m.From.Username,
	})
	reply, err := a.Forwarder().Forward(ctx, p)
	if err != nil {
		slog.Error("channel.telegram.forward", "error", err, "userId", senderID)
		a.send(ctx, m.Chat.ID, "Sorry, I can't answer right now.")
		return
	}
	a.send(ctx, m.Chat.ID, reply.Answer)
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) {
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Error("channel.telegram.send", "error", err, "chatId", chatID)
	}
}
