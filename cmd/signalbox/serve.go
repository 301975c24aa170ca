package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/chatbot"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/credentials"
	"github.com/zulandar/signalbox/internal/housekeeping"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/pipeline"
	"github.com/zulandar/signalbox/internal/platform"
	"github.com/zulandar/signalbox/internal/reply"
	"github.com/zulandar/signalbox/internal/server"
	"github.com/zulandar/signalbox/internal/ttlcache"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Starts the HTTP server for the Messenger and Zalo webhooks and the
housekeeping schedule. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, gormDB, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}

	flags.register(cmd)
	return cmd
}

// app is the fully wired receiver.
type app struct {
	server  *server.Server
	janitor *housekeeping.Janitor
	log     *slog.Logger
}

// buildApp wires every component from cfg. It performs no network I/O.
func buildApp(cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (*app, error) {
	cache, err := ttlcache.New(cfg.Cache.Backend, gormDB)
	if err != nil {
		return nil, err
	}
	tracker := pause.NewTracker(cache, cfg.Pipeline.BotSentTTL)
	pauses, err := pause.NewStore(pause.StoreOpts{DB: gormDB, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}
	keys, err := credentials.NewStore(gormDB, cfg.Credentials.MasterKey)
	if err != nil {
		return nil, err
	}
	bot, err := chatbot.NewClient(chatbot.ClientOpts{
		Endpoints: map[chatbot.Bot]string{
			chatbot.Mobile: cfg.Chatbots.Mobile.URL,
			chatbot.Custom: cfg.Chatbots.Custom.URL,
		},
		Timeout: cfg.Chatbots.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	limits := platform.LimitOpts{
		Timeout: cfg.Pipeline.SendTimeout,
		Rate:    cfg.Pipeline.SendRate,
		Burst:   cfg.Pipeline.SendBurst,
	}
	messenger, err := platform.NewMessenger(platform.MessengerOpts{
		GraphURL:   cfg.Messenger.GraphURL,
		APIVersion: cfg.Messenger.APIVersion,
		Limits:     limits,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	zalo, err := platform.NewZalo(platform.ZaloOpts{
		OpenAPIURL: cfg.Zalo.OpenAPIURL,
		Limits:     limits,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := reply.NewDispatcher(reply.DispatcherOpts{
		DB:      gormDB,
		Keys:    keys,
		Chatbot: bot,
		Senders: []platform.Sender{messenger, zalo},
		Tracker: tracker,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Opts{
		DB:              gormDB,
		Pauses:          pauses,
		Tracker:         tracker,
		Dispatcher:      dispatcher,
		DefaultPauseTTL: cfg.Pipeline.DefaultPauseTTL,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	srv, err := server.New(server.Opts{
		Handler:   p,
		Messenger: cfg.Messenger,
		Zalo:      cfg.Zalo,
		Server:    cfg.Server,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	janitorOpts := housekeeping.Opts{
		DB:             gormDB,
		Pauses:         pauses,
		Schedule:       cfg.Housekeeping.Schedule,
		EventRetention: cfg.Housekeeping.EventRetention,
		Logger:         logger,
	}
	if purger, ok := cache.(ttlcache.Purger); ok {
		janitorOpts.Cache = purger
	}
	janitor, err := housekeeping.New(janitorOpts)
	if err != nil {
		return nil, err
	}

	if cfg.Messenger.AppSecret == "" {
		logger.Warn("messenger app_secret is empty: signature verification disabled")
	}
	if cfg.Zalo.SecretKey == "" {
		logger.Warn("zalo secret_key is empty: signature verification disabled")
	}
	return &app{server: srv, janitor: janitor, log: logger}, nil
}

// run serves until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	go a.janitor.Run(ctx)
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	a.log.Info("signalbox stopped")
	return nil
}
