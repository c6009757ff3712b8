package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"minibot/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack listens over Socket Mode, so no public webhook endpoint is
// needed.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	botUID   string // skip the bot's own messages
	logger   *slog.Logger
}

type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{botToken: cfg.BotToken, appToken: cfg.AppToken, logger: cfg.Logger}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User)

	err = bus.SubscribeOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		s.sendMessage(msg.ChatID, msg.Content)
	})
	if err != nil {
		return fmt.Errorf("slack subscribe: %w", err)
	}

	socketClient := socketmode.New(api)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEvent(ctx, bus, apiEvent)
			default:
				// Unacked events disconnect Socket Mode.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	if err := socketClient.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	s.logger.Info("slack channel stopping")
	return nil
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEvent(ctx context.Context, bus domain.MessageBus, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	var chatID, senderID, content string
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		chatID, senderID, content = ev.Channel, ev.User, ev.Text
	case *slackevents.AppMentionEvent:
		content = ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		chatID, senderID = ev.Channel, ev.User
	default:
		return
	}
	if content == "" {
		return
	}

	s.logger.Info("slack message received", "user", senderID, "channel", chatID, "content_len", len(content))

	err := bus.PublishInbound(ctx, domain.InboundMessage{
		Channel:    "slack",
		ChatID:     chatID,
		SenderID:   senderID,
		Content:    content,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		s.logger.Error("slack publish failed", "error", err)
	}
}

func (s *Slack) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(channelID, slack.MsgOptionText(chunk, false))
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "error", err)
		}
	}
}
