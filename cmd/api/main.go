package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/punchamoorthee/payla/internal/api"
	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/config"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/events"
	"github.com/punchamoorthee/payla/internal/notify"
	"github.com/punchamoorthee/payla/internal/paystack"
	"github.com/punchamoorthee/payla/internal/queue"
	"github.com/punchamoorthee/payla/internal/reminder"
	"github.com/punchamoorthee/payla/internal/service"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/punchamoorthee/payla/internal/tokengate"
	"github.com/punchamoorthee/payla/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const providerTimeout = 15 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if cfg.Production() {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	docs, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer docs.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	var payoutQueue queue.Queue
	var tokenCache tokengate.Cache
	if rdb != nil {
		payoutQueue = queue.NewRedisQueue(rdb, "")
		tokenCache = tokengate.NewRedisCache(rdb)
	} else {
		log.Warn("REDIS_URL not set; payout queue and tokens are process-local")
		payoutQueue = queue.NewMemoryQueue()
		tokenCache = tokengate.NewMemoryCache()
	}

	var publisher events.Publisher = events.LogPublisher{Log: log}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		publisher = kp
	}
	defer publisher.Close()

	var pusher notify.Pusher
	if cfg.FirebaseCredentials != "" {
		fcm, err := notify.NewFCMPusher(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.WithError(err).Warn("push notifications disabled")
		} else {
			pusher = fcm
		}
	}
	notifier := notify.NewNotifier(docs, pusher, log)

	senders := channel.Registry{}
	if cfg.Termii.APIKey != "" {
		senders[domain.ChannelSMS] = channel.NewSMSSender(cfg.Termii.BaseURL, cfg.Termii.APIKey, cfg.Termii.SenderID, providerTimeout)
	}
	if cfg.WhatsApp.Token != "" {
		senders[domain.ChannelWhatsApp] = channel.NewWhatsAppSender(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, providerTimeout)
	}
	var mailer channel.Sender
	if cfg.SMTP.Host != "" {
		email := channel.NewEmailSender(cfg.SMTP.Host, strconv.Itoa(cfg.SMTP.Port), cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		senders[domain.ChannelEmail] = email
		mailer = email
	}

	templates, err := reminder.DefaultTemplates()
	if err != nil {
		return err
	}
	quiet := reminder.NewQuietHours(cfg.Reminder.QuietHoursStart, cfg.Reminder.QuietHoursEnd, cfg.Reminder.QuietHoursTZ)
	dispatcher := reminder.NewDispatcher(docs, senders, templates, quiet, reminder.DispatcherConfig{
		Interval:  cfg.Reminder.PollInterval,
		BatchSize: cfg.Reminder.BatchSize,
		LockTTL:   cfg.Reminder.LockTTL,
	}, log.WithField("component", "dispatcher"))
	scheduler := reminder.NewScheduler(docs, templates, dispatcher, log.WithField("component", "scheduler"))
	archiver := reminder.NewArchiver(docs, cfg.Reminder.ArchiveAfter, 24*time.Hour, log.WithField("component", "archiver"))

	processor := paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, providerTimeout)
	payouts := service.NewPayoutOrchestrator(docs, processor, notifier, publisher, service.PayoutConfig{
		MinAmount: cfg.Payout.MinAmount,
		LockTTL:   cfg.Payout.LockTTL,
	}, log.WithField("component", "payout"))
	worker := queue.NewWorker(payoutQueue, payouts, queue.WorkerConfig{
		MaxRetries: cfg.Payout.MaxRetries,
		BaseDelay:  cfg.Payout.BackoffBase,
		MaxDelay:   cfg.Payout.BackoffMax,
		RatePerSec: cfg.Payout.RatePerSec,
	}, log.WithField("component", "payout_worker"))
	nudger := service.NewBillingNudger(docs, mailer, cfg.BillingNudgeInterval, log.WithField("component", "billing"))

	reconciler := service.NewReconciler(docs, queue.Enqueuer{Queue: payoutQueue}, scheduler, notifier, publisher, log.WithField("component", "reconciler"))
	handler := api.NewHandler(api.Deps{
		Verifier:    webhook.NewVerifier(cfg.WebhookSecret),
		Reconciler:  reconciler,
		Deliveries:  service.NewDeliveryLog(docs),
		Invoices:    service.NewInvoiceService(docs, scheduler, cfg.BaseURL, log.WithField("component", "invoices")),
		Reminders:   scheduler,
		Payouts:     payouts,
		Tokens:      tokengate.NewGate(tokenCache, cfg.TokenTTL),
		Auth:        api.NewAuthenticator(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return nudger.Run(gctx) })
	g.Go(func() error { return archiver.Run(gctx) })
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory document store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	if err := store.Migrate(cfg.DBSource, log); err != nil {
		return nil, err
	}
	return store.NewPostgresStore(ctx, cfg.DBSource)
}
