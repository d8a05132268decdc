// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/wa-broadcast/internal/access"
	"github.com/unclebandit/wa-broadcast/internal/config"
	"github.com/unclebandit/wa-broadcast/internal/controller"
	"github.com/unclebandit/wa-broadcast/internal/db"
	"github.com/unclebandit/wa-broadcast/internal/handler"
	"github.com/unclebandit/wa-broadcast/internal/logger"
	"github.com/unclebandit/wa-broadcast/internal/queue"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/service"
	"github.com/unclebandit/wa-broadcast/internal/whatsapp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	channelRepo := &repository.ChannelRepository{DB: conn}

	statusUpdater := &service.StatusUpdater{Recipients: recipientRepo, Campaigns: campaignRepo, Log: log}
	q, closeQueue, err := openQueue(cfg, statusUpdater, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	client := whatsapp.NewClient(log, whatsapp.Options{
		BaseURL:       cfg.WhatsAppAPIURL,
		APIVersion:    cfg.WhatsAppAPIVersion,
		Token:         cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Timeout:       cfg.WhatsAppTimeout,
	})

	scheduler := &service.Scheduler{
		Campaigns: campaignRepo,
		Activator: &service.Activator{
			Campaigns:   campaignRepo,
			Contacts:    contactRepo,
			CountryCode: cfg.CountryCode,
			Log:         log,
		},
		Processor: &service.BatchProcessor{
			Recipients:  recipientRepo,
			Sender:      client,
			Resolver:    &service.ChannelLookup{Channels: channelRepo, Default: client.DefaultIdentity()},
			BatchSize:   cfg.BatchSize,
			SendDelay:   cfg.SendDelay,
			ClaimLease:  cfg.ClaimLease,
			CountryCode: cfg.CountryCode,
			Log:         log,
		},
		Completion: &service.CompletionDetector{
			Campaigns:   campaignRepo,
			Recipients:  recipientRepo,
			Queue:       q,
			EventsTopic: cfg.EventsQueue,
			Log:         log,
		},
		Log: log,
	}

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		TemplateRepo:  templateRepo,
		ContactRepo:   contactRepo,
		ChannelRepo:   channelRepo,
		CountryCode:   cfg.CountryCode,
		Location:      cfg.Location(),
	}
	authz := access.ScopeAuthorizer{}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		TemplateService: &service.TemplateService{TemplateRepo: templateRepo},
		ContactService:  &service.ContactService{ContactRepo: contactRepo, CountryCode: cfg.CountryCode, Log: log},
		Authorizer:      authz,
		Log:             log,
	}
	campaignHandler := &handler.CampaignHandler{Service: campaignService, Authorizer: authz, Log: log}
	schedulerHandler := &handler.SchedulerHandler{
		Scheduler:     scheduler,
		Secret:        cfg.SchedulerSecret,
		RequireSecret: cfg.IsProduction(),
		Log:           log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.PingContext(r.Context()); err != nil {
			handler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Scheduler passes run outside the API timeout group.
	r.Get("/scheduler/process", schedulerHandler.Process)
	r.Post("/scheduler/process", schedulerHandler.Process)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Template and contact routes
		r.Post("/templates", campaignController.CreateTemplate)
		r.Get("/templates", campaignController.ListTemplates)
		r.Post("/contacts/import", campaignController.ImportContacts)

		// Campaign routes
		r.Post("/campaigns", campaignController.CreateCampaign)
		r.Get("/campaigns", campaignHandler.ListCampaignsHandler)
		r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandlerWithStats)
		r.Post("/campaigns/{id}/schedule", campaignController.ScheduleCampaign)
		r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
		r.Post("/campaigns/{id}/preview", campaignController.PersonalizedPreview)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("🚀 Server running", zap.Int("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openQueue connects to RabbitMQ when AMQP_URL is set; status feedback is then
// consumed by cmd/worker. Otherwise everything stays in-process: finalisation
// events are logged and status feedback is applied by this server.
func openQueue(cfg *config.Config, updater *service.StatusUpdater, log *zap.Logger) (queue.Queue, func(), error) {
	if cfg.AMQPURL != "" {
		q, err := queue.DialAMQP(cfg.AMQPURL, log, cfg.QueueMaxRetries)
		if err != nil {
			return nil, nil, err
		}
		log.Info("✅ Connected to RabbitMQ")
		return q, func() { q.Close() }, nil
	}

	q := queue.NewInMemoryQueue(log)
	q.MaxRetries = cfg.QueueMaxRetries
	if err := queue.StartCampaignEventLogger(q, cfg.EventsQueue, log); err != nil {
		return nil, nil, err
	}
	if err := updater.Start(q, cfg.StatusQueue); err != nil {
		return nil, nil, err
	}
	log.Warn("⚠️ AMQP_URL not set, using the in-memory queue")
	return q, q.Wait, nil
}
