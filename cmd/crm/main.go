package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"callcenter_crm/internal/app"
	domainTelegram "callcenter_crm/internal/domain/telegram"
	"callcenter_crm/internal/infra/config"
	idb "callcenter_crm/internal/infra/database"
	"callcenter_crm/internal/infra/httpapi"
	"callcenter_crm/internal/infra/logger"
	"callcenter_crm/internal/infra/scheduler"
	"callcenter_crm/internal/infra/telegram"

	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.Infof("Configuration loaded. LogLevel: %s, Environment: %s, Staff accounts: %d",
		cfg.LogLevel, cfg.Environment, len(cfg.StaffAccounts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLogger.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully.")

	followUpRepo := idb.NewPostgresFollowUpRepository(db, cfg.TxMaxRetries)
	staff := app.NewStaffDirectory(cfg.StaffAccounts)
	followUpService := app.NewFollowUpService(followUpRepo, logger.Component("followup_service"))

	// Telegram bot is optional; without it digests are skipped.
	var bot *telebot.Bot
	var messenger domainTelegram.Messenger
	if cfg.TelegramToken != "" {
		botLogger := logger.Component("telebot")
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.Error("Telegram handler failed")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.Fatalf("Could not create Telegram bot: %v", err)
		}
		messenger = telegram.NewTelebotAdapter(bot)
	} else {
		mainLogger.Warn("TELEGRAM_TOKEN is not set. Staff bot and due digests are disabled.")
	}

	notificationService := app.NewNotificationService(
		followUpRepo, messenger, logger.Component("notification_service"), cfg.ManagerTelegramID)

	var digest scheduler.DigestSender
	if messenger != nil {
		digest = notificationService
	}
	followUpScheduler := scheduler.NewFollowUpScheduler(
		followUpService,
		digest,
		logger.Component("scheduler"),
		cfg.CronSpecAutoClosure,
		cfg.CronSpecDueDigest,
		cfg.DigestLimit,
	)
	if err := followUpScheduler.Start(); err != nil {
		mainLogger.Fatalf("Could not start scheduler: %v", err)
	}

	if bot != nil {
		handlerLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, staff, handlerLogger)
		telegram.RegisterStaffHandlers(ctx, bot, followUpService, notificationService, staff, time.Now, handlerLogger)
		go bot.Start()
		mainLogger.Info("Telegram bot started.")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(&httpapi.Handler{
			FollowUps:     followUpService,
			Notifications: notificationService,
			Logger:        logger.Component("http"),
			Now:           time.Now,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("HTTP server shutdown failed")
	}
	if bot != nil {
		bot.Stop()
	}
	followUpScheduler.Stop()
	mainLogger.Info("Application shut down gracefully.")
}
