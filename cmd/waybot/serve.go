package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetyard/waybot/internal/api"
	"github.com/fleetyard/waybot/internal/backend"
	"github.com/fleetyard/waybot/internal/config"
	"github.com/fleetyard/waybot/internal/conversation"
	"github.com/fleetyard/waybot/internal/db"
	"github.com/fleetyard/waybot/internal/delivery"
	"github.com/fleetyard/waybot/internal/llm"
	"github.com/fleetyard/waybot/internal/notify"
	"github.com/fleetyard/waybot/internal/session"
	"github.com/fleetyard/waybot/internal/store"
	"github.com/fleetyard/waybot/internal/transport"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP API",
		Long:  "Starts the webhook pipeline, session watchers, alert schedule and HTTP API. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybot.yaml", "path to waybot config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Bot.Enabled {
		return fmt.Errorf("bot is disabled in %s; set bot.enabled: true", configPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Open(cfg.App.DataDir)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	st, err := store.New(gormDB)
	if err != nil {
		return err
	}

	bridge, err := transport.NewBridge(transport.BridgeOpts{
		URL:    cfg.Bridge.URL,
		APIKey: cfg.Bridge.APIKey,
	})
	if err != nil {
		return err
	}
	sender, err := delivery.New(delivery.Opts{Client: bridge})
	if err != nil {
		return err
	}

	notifier := conversation.NewLifecycleNotifier(sender, cfg.Messages)
	sessions, err := session.NewManager(session.Opts{
		Store:    st,
		Notifier: notifier,
		Timers: session.Timers{
			InactivityWarning: cfg.Session.InactivityWarning(),
			InactivityEnd:     cfg.Session.InactivityEnd(),
			ForcedDuration:    cfg.Session.ForcedDuration(),
			ForcedWarningLead: cfg.Session.ForcedWarningLead(),
			HandoverCooldown:  cfg.Session.HandoverCooldown(),
		},
	})
	if err != nil {
		return err
	}
	defer sessions.Shutdown()
	if err := sessions.SweepStale(); err != nil {
		return fmt.Errorf("sweep stale sessions: %w", err)
	}

	analyst, err := llm.New(llm.Opts{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Models: llm.Models{
			Classify: cfg.AI.ClassifyModel,
			Filter:   cfg.AI.FilterModel,
			Split:    cfg.AI.SplitModel,
		},
	})
	if err != nil {
		return err
	}

	chat, err := backend.NewClient(backend.Opts{
		Endpoint: cfg.Backend.ChatEndpoint,
		BotPhone: cfg.Bot.Phone,
	})
	if err != nil {
		return err
	}

	directory, err := buildDirectory(cfg)
	if err != nil {
		return err
	}

	var operator conversation.OperatorNotifier
	if cfg.Notify.SlackToken != "" {
		op, err := notify.NewOperator(notify.OperatorOpts{
			Token:   cfg.Notify.SlackToken,
			Channel: cfg.Notify.SlackChannel,
		})
		if err != nil {
			return err
		}
		operator = op
	}

	orch, err := conversation.New(conversation.Opts{
		Store:     st,
		Sessions:  sessions,
		Analyst:   analyst,
		Backend:   chat,
		Directory: directory,
		Sender:    sender,
		Client:    bridge,
		Operator:  operator,
		Messages:  cfg.Messages,
	})
	if err != nil {
		return err
	}

	if cfg.Notify.AlertCron != "" && cfg.Directory.QueryURL != "" {
		source, err := notify.NewHTTPAlertSource(cfg.Directory.QueryURL)
		if err != nil {
			return err
		}
		alerter, err := notify.NewAlerter(notify.AlerterOpts{
			Source:      source,
			Sender:      sender,
			Subscribers: cfg.Notify.Subscribers,
			Cron:        cfg.Notify.AlertCron,
		})
		if err != nil {
			return err
		}
		alerter.Start(ctx)
		defer alerter.Stop()
		log.Printf("waybot: alert schedule %q active", cfg.Notify.AlertCron)
	}

	server, err := api.New(api.Opts{
		Store:    st,
		Inbound:  orch,
		Sessions: sessions,
		Sender:   sender,
		Port:     cfg.API.Port,
	})
	if err != nil {
		return err
	}

	log.Printf("waybot: serving as %s (%s stage)", cfg.Bot.Phone, cfg.App.Stage)
	return server.Run(ctx)
}

// buildDirectory picks the token directory implementation from config.
func buildDirectory(cfg *config.Config) (backend.Directory, error) {
	switch cfg.Directory.Mode {
	case "mysql":
		userDB, err := db.ConnectMySQL(
			cfg.Directory.MySQL.Host,
			cfg.Directory.MySQL.Port,
			cfg.Directory.MySQL.User,
			cfg.Directory.MySQL.Password,
			cfg.Directory.MySQL.Database,
		)
		if err != nil {
			return nil, err
		}
		return backend.NewMySQLDirectory(userDB, cfg.Directory.MaxTokens)
	default:
		return backend.NewHTTPDirectory(cfg.Directory.QueryURL, cfg.Directory.MaxTokens)
	}
}
