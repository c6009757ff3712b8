package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"minibot/internal/domain"
)

// CLI is the interactive terminal adapter.
type CLI struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

type CLIConfig struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{in: cfg.In, out: cfg.Out, logger: cfg.Logger}
}

func (c *CLI) Name() string { return "cli" }

// Start runs a REPL and blocks until /quit, EOF, or cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	err := bus.SubscribeOutbound("cli", func(msg domain.OutboundMessage) {
		fmt.Fprintf(c.out, "\nminibot> %s\n\nyou> ", msg.Content)
	})
	if err != nil {
		return fmt.Errorf("cli subscribe: %w", err)
	}

	fmt.Fprintln(c.out, "minibot interactive chat. Type a message and press Enter; /quit to exit.")
	fmt.Fprint(c.out, "you> ")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "you> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		err := bus.PublishInbound(ctx, domain.InboundMessage{
			Channel:    "cli",
			ChatID:     "direct",
			SenderID:   "user",
			Content:    line,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			c.logger.Error("cli publish failed", "error", err)
			fmt.Fprint(c.out, "you> ")
		}
	}
}

func (c *CLI) Stop() error { return nil }
