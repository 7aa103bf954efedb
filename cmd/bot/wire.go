package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"booking_reminder_bot/internal/app"
	"booking_reminder_bot/internal/domain/reminder"
	"booking_reminder_bot/internal/infra/agent"
	"booking_reminder_bot/internal/infra/config"
	idb "booking_reminder_bot/internal/infra/database"
	"booking_reminder_bot/internal/infra/httpapi"
	"booking_reminder_bot/internal/infra/logger"
	"booking_reminder_bot/internal/infra/metrics"
	"booking_reminder_bot/internal/infra/scheduler"
	"booking_reminder_bot/internal/infra/telegram"
	"booking_reminder_bot/internal/infra/templates"
	"booking_reminder_bot/internal/infra/yclients"
)

// application holds the long-running parts built from the config.
type application struct {
	scheduler     *scheduler.NotificationScheduler
	confirmations *app.ConfirmationHandler
	bot           *telebot.Bot    // nil without BOT_TOKEN
	agent         *agent.Client   // nil without AGENT_GATEWAY_URL
	http          *httpapi.Server // nil when HTTP_ADDR is empty
}

func buildApp(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger, db *idb.DB) (*application, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	// Repositories
	knownRecords := idb.NewKnownRecordRepository(db)
	reminders := idb.NewReminderRepository(db)
	links := idb.NewCustomerLinkRepository(db)
	convo := idb.NewConversationRepository(db)

	tmpl, err := templates.LoadDefault(cfg.BusinessName, cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load message templates: %w", err)
	}

	source := yclients.NewClient(cfg.YClients, cfg.Timezone, logger.Component(log, "yclients"))

	a := &application{}
	var channels app.Channels
	if cfg.TelegramToken != "" {
		bot, err := telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := log.WithError(err).WithField("component", "telebot")
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		a.bot = bot
		channels.Bot = telegram.NewBotSender(bot)
	}
	if cfg.AgentGatewayURL != "" {
		a.agent = agent.NewClient(cfg.AgentGatewayURL, cfg.AgentGatewayToken, cfg.IdentityCacheTTL, logger.Component(log, "agent"))
		channels.Agent = a.agent
		channels.Resolver = a.agent
	}

	router := app.NewDeliveryRouter(links, reminders, reminders, convo, channels, tmpl, logger.Component(log, "router"))
	router.SetRecorder(m)
	router.SetMaxRetryWait(cfg.MaxRetryWait)

	reconciler := app.NewReconciler(source, knownRecords, logger.Component(log, "reconciler"))
	reconciler.SetRecorder(m)

	notifService := app.NewNotificationServiceImpl(
		reconciler,
		app.NewEvaluator(reminder.UpcomingWindows(), reminders, logger.Component(log, "evaluator")),
		app.NewEvaluator(reminder.ReviewWindows(), reminders, logger.Component(log, "evaluator")),
		app.NewRosterEvaluator(reminder.LostCustomerWindows(), reminders, cfg.Timezone, logger.Component(log, "roster")),
		knownRecords,
		source,
		router,
		app.Windows{Horizon: cfg.ReconcileHorizon, Lookback: cfg.ReconcileLookback},
		logger.Component(log, "notifications"),
	)

	a.scheduler = scheduler.NewNotificationScheduler(notifService, logger.Component(log, "scheduler"), cfg.Timezone, scheduler.Specs{
		Reconcile:     cfg.CronSpecReconcile,
		Reminders:     cfg.CronSpecReminders,
		Reviews:       cfg.CronSpecReviews,
		LostCustomers: cfg.CronSpecLostCustomers,
	})
	a.scheduler.SetObserver(m)

	a.confirmations = app.NewConfirmationHandler(reminders, knownRecords, links, convo, source, router, tmpl, logger.Component(log, "confirmations"))
	a.confirmations.SetRecorder(m)

	adminService := app.NewAdminService(knownRecords, reminders, reminders, convo, a.scheduler, reconciler, cfg.AdminTelegramID)

	if a.bot != nil {
		telegram.NewAdminHandlers(ctx, adminService, logger.Component(log, "telegram")).Register(a.bot)
		telegram.NewCustomerHandlers(ctx, links, a.confirmations, adminService.IsAdmin, logger.Component(log, "telegram")).Register(a.bot)
	}
	if cfg.HTTPAddr != "" {
		a.http = httpapi.NewServer(cfg.HTTPAddr, adminService, reg, logger.Component(log, "http"))
	}
	return a, nil
}
