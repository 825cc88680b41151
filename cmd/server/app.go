package main

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/config"
	"github.com/gdg-garage/confreg/internal/database"
	"github.com/gdg-garage/confreg/internal/logging"
	"github.com/gdg-garage/confreg/internal/notifier"
	"github.com/gdg-garage/confreg/internal/reconcile"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the components shared by the serve and sweep commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	catalog   *conference.Catalog
	store     *registration.Store
	confirmer *registration.Confirmer
	sweeper   *reconcile.Sweeper
	discord   *discordgo.Session
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	catalog, err := conference.LoadCatalog(cfg.ConferencesFile)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}

	ledger := capacity.NewLedger(db)
	for _, conf := range catalog.All() {
		if err := ledger.Sync(ctx, conf.ID, conf.Capacity); err != nil {
			return nil, err
		}
		logger.Info("conference loaded",
			zap.String("conference_id", conf.ID),
			zap.Int("capacity", conf.Capacity))
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		catalog: catalog,
		store:   registration.NewStore(db, ledger),
	}

	a.confirmer = registration.NewConfirmer(a.store, a.notifier(), logger)
	a.sweeper = reconcile.NewSweeper(a.store, a.confirmer, cfg.PendingTTL, logger)
	return a, nil
}

// notifier returns the Discord notifier when a bot token and channel are
// configured, otherwise one that only logs.
func (a *app) notifier() notifier.Notifier {
	if a.cfg.DiscordBotToken == "" || a.cfg.DiscordNotificationsChannelID == "" {
		a.logger.Info("discord not configured, notifications go to the log")
		return notifier.NewLogNotifier(a.logger)
	}

	session, err := discordgo.New("Bot " + a.cfg.DiscordBotToken)
	if err != nil {
		a.logger.Warn("discord notifier not initialized", zap.Error(err))
		return notifier.NewLogNotifier(a.logger)
	}
	a.discord = session
	return notifier.NewDiscordNotifier(session, a.cfg.DiscordNotificationsChannelID, a.logger)
}

func (a *app) Close() {
	if a.discord != nil {
		a.discord.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}
