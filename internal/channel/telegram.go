package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"minibot/internal/domain"
)

const telegramMaxMsgLen = 4000

// Telegram polls the Bot API for updates and relays them onto the bus.
type Telegram struct {
	token     string
	allowFrom []int64 // empty means allow everyone
	bot       *tgbotapi.BotAPI
	logger    *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{token: cfg.Token, allowFrom: allowed, logger: cfg.Logger}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName)

	err = bus.SubscribeOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid telegram chat id", "chat_id", msg.ChatID, "error", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})
	if err != nil {
		return fmt.Errorf("telegram subscribe: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, bus, update)
		}
	}
}

func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, bus domain.MessageBus, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID)
		t.sendMessage(chatID, "Unauthorized: your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	err := bus.PublishInbound(ctx, domain.InboundMessage{
		Channel:    "telegram",
		ChatID:     strconv.FormatInt(chatID, 10),
		SenderID:   strconv.FormatInt(userID, 10),
		Content:    text,
		ReceivedAt: time.Unix(int64(update.Message.Date), 0),
	})
	if err != nil {
		t.logger.Error("telegram publish failed", "error", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			// Markdown in model output is often malformed; resend plain.
			if strings.Contains(err.Error(), "can't parse entities") {
				plain := tgbotapi.NewMessage(chatID, chunk)
				if _, err := t.bot.Send(plain); err == nil {
					continue
				}
			}
			t.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}
