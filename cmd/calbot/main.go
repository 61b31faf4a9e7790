package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/calbot/calbot/pkg/agent"
	"github.com/calbot/calbot/pkg/bus"
	"github.com/calbot/calbot/pkg/channels"
	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/gateway"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/providers"
	"github.com/calbot/calbot/pkg/reminders"
	"github.com/calbot/calbot/pkg/session"
	"github.com/calbot/calbot/pkg/tools"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	var configPath string

	root := &cobra.Command{
		Use:   "calbot",
		Short: "Conversational calendar assistant backend",
		Long: strings.TrimSpace(`calbot is a conversational calendar assistant: it answers questions about
your schedule, creates and moves events with conflict negotiation, books
appointments over the phone, and serves everything over an HTTP gateway or
chat channels.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to the JSON config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newConfigCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root.Execute()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "calbot.json"
	}
	return filepath.Join(home, ".calbot", "config.json")
}

// defaultAccounts is the account set used by surfaces that have no
// per-request account payload (CLI chat, Discord).
func defaultAccounts() []ports.AccountRef {
	return []ports.AccountRef{
		{ID: "personal", Title: "Personal", Primary: true},
		{ID: "work", Title: "Work"},
	}
}

// runtime is everything a running assistant needs, wired once.
type runtime struct {
	cfg      *config.Config
	loop     *agent.Loop
	events   *bus.EventBus
	sessions *session.Manager
	calendar *ports.MemoryCalendar
}

func (r *runtime) close() {
	r.events.Close()
	if err := r.sessions.Close(); err != nil {
		logger.WarnCF("main", "Failed to close session store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func buildRuntime(configPath string) (*runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)

	provider, err := providers.NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	// Local port bindings. Real calendar/mail/voice adapters implement the
	// same interfaces and drop in here.
	calendar := ports.NewMemoryCalendar()
	contacts := ports.NewMemoryContacts(nil)
	mail := ports.LogMail{}
	voice := ports.NewSimulatedVoice("")

	var search ports.WebSearchPort
	if cfg.Tools.Web.Brave.Enabled && cfg.Tools.Web.Brave.APIKey != "" {
		search = ports.NewBraveSearch(cfg.Tools.Web.Brave.APIKey)
	} else if cfg.Tools.Web.DuckDuckGo.Enabled {
		search = ports.NewDuckDuckGoSearch()
	}

	engine := conflict.NewEngine(calendar)

	store, err := session.NewStoreFromConfig(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("initialize session store: %w", err)
	}
	sessions := session.NewManager(store)

	reminderSvc := reminders.NewService()

	registry := tools.NewRegistry()
	registry.Register(&tools.ListEventsTool{Calendar: calendar})
	registry.Register(&tools.CreateEventTool{Engine: engine, Calendar: calendar})
	registry.Register(&tools.RescheduleEventTool{Engine: engine, Calendar: calendar})
	registry.Register(&tools.DeleteEventTool{Calendar: calendar})
	registry.Register(&tools.FreeBusyTool{Calendar: calendar})
	registry.Register(&tools.ContactsLookupTool{Contacts: contacts})
	registry.Register(&tools.EmailSendTool{Mail: mail, Contacts: contacts})
	if search != nil {
		registry.Register(&tools.WebSearchTool{Search: search})
	}
	registry.Register(&tools.ReminderCreateTool{Service: reminderSvc})

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Assistant.Timezone); tz != "" && tz != "Local" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}

	booking := agent.NewBookingFlow(cfg.Voice, voice, search, engine, calendar, loc)
	eventBus := bus.NewEventBus()
	loop := agent.NewLoop(cfg, provider, registry, engine, sessions, eventBus, booking)

	logger.InfoCF("main", "Runtime assembled", map[string]interface{}{
		"tools":    registry.Count(),
		"store":    cfg.Session.Store,
		"provider": cfg.Assistant.Provider,
	})

	return &runtime{
		cfg:      cfg,
		loop:     loop,
		events:   eventBus,
		sessions: sessions,
		calendar: calendar,
	}, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP gateway and any configured chat channels",
		Example: "  calbot serve\n  calbot serve --config ./calbot.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := channels.NewManager(rt.cfg, rt.loop, defaultAccounts())
			if err != nil {
				return err
			}
			if err := manager.StartAll(ctx); err != nil {
				return err
			}

			server := gateway.NewServer(rt.cfg.Gateway, rt.loop, rt.events)
			serverErr := make(chan error, 1)
			go func() { serverErr <- server.ListenAndServe() }()

			select {
			case err := <-serverErr:
				_ = manager.StopAll(context.Background())
				return err
			case <-ctx.Done():
			}

			logger.InfoCF("main", "Shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WarnCF("main", "Gateway shutdown error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return manager.StopAll(shutdownCtx)
		},
	}
}

func newConfigCommand(configPath *string) *cobra.Command {
	configRoot := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configRoot.AddCommand(&cobra.Command{
		Use:     "init",
		Short:   "Write a default config file",
		Example: "  calbot config init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("config file already exists at %s", *configPath)
			}
			if err := config.SaveConfig(*configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", *configPath)
			return nil
		},
	})
	configRoot.AddCommand(&cobra.Command{
		Use:     "show",
		Short:   "Print the effective configuration",
		Example: "  calbot config show",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("provider: %s\nmodel: %s\ngateway: %s:%d\nsession store: %s\n",
				cfg.Assistant.Provider, cfg.Assistant.Model, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Session.Store)
			return nil
		},
	})
	return configRoot
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  calbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("calbot %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
