package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"minibot/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord connects over the gateway and relays guild and DM messages.
type Discord struct {
	token     string
	allowFrom map[string]bool // empty means allow everyone
	session   *discordgo.Session
	logger    *slog.Logger
}

type DiscordConfig struct {
	Token     string
	AllowFrom []string
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	allowed := make(map[string]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = true
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{token: cfg.Token, allowFrom: allowed, logger: cfg.Logger}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	d.session = session

	err = bus.SubscribeOutbound("discord", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		d.sendMessage(msg.ChatID, msg.Content)
	})
	if err != nil {
		return fmt.Errorf("discord subscribe: %w", err)
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if len(d.allowFrom) > 0 && !d.allowFrom[m.Author.ID] {
			d.logger.Warn("unauthorized discord user", "user_id", m.Author.ID)
			return
		}
		if m.Content == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)

		err := bus.PublishInbound(ctx, domain.InboundMessage{
			Channel:    "discord",
			ChatID:     m.ChannelID,
			SenderID:   m.Author.ID,
			Content:    m.Content,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			d.logger.Error("discord publish failed", "error", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord channel stopping")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "error", err)
		}
	}
}
