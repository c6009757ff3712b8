package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"minibot/internal/agent"
	"minibot/internal/bus"
	"minibot/internal/channel"
	"minibot/internal/config"
	"minibot/internal/cron"
	"minibot/internal/domain"
	"minibot/internal/memory"
	"minibot/internal/provider"
	"minibot/internal/session"
	"minibot/internal/skill"
	"minibot/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "minibot",
		Short: "minibot: a message-driven personal AI agent",
		Long:  "minibot is a tool-using AI agent reachable over Telegram, Discord, Slack and the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.minibot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.Agent.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			fmt.Printf("Created %s\nWorkspace: %s\nAdd your provider API key and run 'minibot chat'.\n", cfgPath, workspace)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(false)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the full gateway: all enabled channels, cron and heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(true)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			logger = newLogger(cfg.LogLevel)

			fmt.Printf("minibot %s\n", version)
			fmt.Printf("config:    %s\n", resolveConfigPath())
			fmt.Printf("workspace: %s\n", cfg.Agent.Workspace)
			fmt.Printf("model:     %s\n", cfg.Provider.Model)

			prov := provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:  cfg.Provider.APIKey,
				APIBase: cfg.Provider.APIBase,
				Model:   cfg.Provider.Model,
				Logger:  logger,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := prov.Healthy(ctx); err != nil {
				fmt.Printf("provider:  unhealthy (%v)\n", err)
			} else {
				fmt.Println("provider:  healthy")
			}
			return nil
		},
	}
}

// runEngine wires the whole system and blocks until shutdown. In chat
// mode only the CLI channel runs; gateway mode starts every enabled
// channel plus cron and heartbeat.
func runEngine(gateway bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.Agent.BusBufferSize, logger)
	defer messageBus.Close()

	store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.Model,
		Logger:  logger,
	})

	skills := skill.NewLibrary(filepath.Join(cfg.Agent.Workspace, "skills"), logger)
	if err := skills.Load(); err != nil {
		return fmt.Errorf("load skills: %w", err)
	}

	builder := agent.NewContextBuilder(cfg.Agent.Workspace, cfg.Agent.Instructions, skills)
	sessions := session.NewManager(store, cfg.Agent.SessionWindow, logger)

	// Sub-agents share the static configuration but get a reduced tool
	// set: no message, no spawn.
	childTools := tool.NewRegistry(logger)
	if err := registerCoreTools(childTools, cfg, store); err != nil {
		return err
	}
	childLoop := agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Sessions:      sessions,
		Builder:       builder,
		Tools:         childTools,
		Store:         store,
		Bus:           messageBus,
		Logger:        logger,
		MaxIterations: cfg.Agent.MaxIterations,
		ToolTimeout:   time.Duration(cfg.Tools.ToolTimeoutSeconds) * time.Second,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
	})
	spawner := agent.NewSpawner(childLoop, cfg.Agent.SubAgentDepth, logger)

	tools := tool.NewRegistry(logger)
	if err := registerCoreTools(tools, cfg, store); err != nil {
		return err
	}
	if err := tools.Register(tool.NewMessageTool(messageBus)); err != nil {
		return err
	}
	if err := tools.Register(agent.NewSpawnTool(spawner, 0)); err != nil {
		return err
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Sessions:      sessions,
		Builder:       builder,
		Tools:         tools,
		Store:         store,
		Bus:           messageBus,
		Logger:        logger,
		MaxIterations: cfg.Agent.MaxIterations,
		Concurrency:   cfg.Agent.MaxConcurrent,
		ToolTimeout:   time.Duration(cfg.Tools.ToolTimeoutSeconds) * time.Second,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
	})
	go loop.Run(ctx)

	if gateway {
		go cron.NewService(store, messageBus, logger).Start(ctx)

		if cfg.Heartbeat.Enabled {
			hb := agent.NewHeartbeat(
				cfg.Agent.Workspace,
				time.Duration(cfg.Heartbeat.IntervalMinutes)*time.Minute,
				messageBus,
				logger,
			)
			go func() {
				if err := hb.Start(ctx); err != nil {
					logger.Error("heartbeat error", "error", err)
				}
			}()
		}

		startChannels(ctx, cfg, messageBus)
		logger.Info("gateway started", "version", version)
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cli.Start(ctx, messageBus)
}

// registerCoreTools registers the tools both the root agent and
// sub-agents get.
func registerCoreTools(reg *tool.Registry, cfg *config.Config, store *memory.SQLiteStore) error {
	fsCfg := tool.FSConfig{
		Workspace:           cfg.Agent.Workspace,
		RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
	}
	all := []domain.Tool{
		tool.NewReadFileTool(fsCfg),
		tool.NewWriteFileTool(fsCfg),
		tool.NewEditFileTool(fsCfg),
		tool.NewListDirTool(fsCfg),
		tool.NewExecTool(tool.ExecConfig{
			WorkingDir:     cfg.Agent.Workspace,
			TimeoutSeconds: cfg.Tools.ExecTimeoutSeconds,
		}),
		tool.NewWebFetchTool(),
		tool.NewMemoryTool(store),
		cron.NewTool(store),
	}
	if cfg.Tools.BraveAPIKey != "" {
		all = append(all, tool.NewWebSearchTool(cfg.Tools.BraveAPIKey))
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func startChannels(ctx context.Context, cfg *config.Config, messageBus *bus.InMemoryBus) {
	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		})
		go func() {
			if err := tg.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "error", err)
			}
		}()
	}
	if cfg.Channels.Discord.Enabled {
		dc := channel.NewDiscord(channel.DiscordConfig{
			Token:     cfg.Channels.Discord.Token,
			AllowFrom: cfg.Channels.Discord.AllowFrom,
			Logger:    logger,
		})
		go func() {
			if err := dc.Start(ctx, messageBus); err != nil {
				logger.Error("discord channel error", "error", err)
			}
		}()
	}
	if cfg.Channels.Slack.Enabled {
		sl := channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		go func() {
			if err := sl.Start(ctx, messageBus); err != nil {
				logger.Error("slack channel error", "error", err)
			}
		}()
	}
}
