// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/channel"
	"github.com/relaymark/relaymark-backend/internal/config"
	"github.com/relaymark/relaymark-backend/internal/controller"
	"github.com/relaymark/relaymark-backend/internal/db"
	"github.com/relaymark/relaymark-backend/internal/logger"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/queue"
	"github.com/relaymark/relaymark-backend/internal/repository"
	"github.com/relaymark/relaymark-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		zlog.Fatal("database unavailable", zap.Error(err))
	}
	defer conn.Close()

	broker, err := queue.Dial(cfg.AMQPURL, zlog)
	if err != nil {
		zlog.Fatal("broker unavailable", zap.Error(err))
	}
	defer broker.Close()
	for _, q := range []string{cfg.DispatchQueue, cfg.DeliveryEventQueue} {
		if err := broker.Declare(q); err != nil {
			zlog.Fatal("failed to declare queue", zap.String("queue", q), zap.Error(err))
		}
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		MessageRepo:  messageRepo,
		Log:          zlog,
	}
	dispatcher := &service.Dispatcher{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		MessageRepo:  messageRepo,
		Senders: map[string]channel.Sender{
			model.ChannelEmail: channel.NewEmailSender(cfg.EmailAPIURL, cfg.EmailAPIKey),
			model.ChannelSMS:   channel.NewSMSSender(cfg.SMSAPIURL, cfg.SMSAccountID, cfg.SMSAuthToken),
		},
		BatchSize:   cfg.BatchSize,
		SendTimeout: cfg.SendTimeout,
		Log:         zlog,
	}
	reconciler := &service.Reconciler{MessageRepo: messageRepo, Log: zlog}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Dispatcher:      dispatcher,
		Publisher:       broker,
		DispatchQueue:   cfg.DispatchQueue,
		SyncSendMaxSize: cfg.SyncSendMaxSize,
		Log:             zlog,
	}
	contactController := &controller.ContactController{ContactRepo: contactRepo}
	webhookController := &controller.WebhookController{
		Publisher:  broker,
		EventQueue: cfg.DeliveryEventQueue,
		Reconciler: reconciler,
		Log:        zlog,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Put("/campaigns/{id}", campaignController.UpdateCampaign)
	r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	r.Post("/contacts", contactController.CreateContact)
	r.Get("/contacts", contactController.ListContacts)

	r.Post("/webhooks/email", webhookController.EmailEvents)
	r.Post("/webhooks/sms", webhookController.SMSEvents)
	r.Get("/t/open/{messageID}", webhookController.TrackOpen)
	r.Get("/t/click/{messageID}", webhookController.TrackClick)

	zlog.Info("server running", zap.String("port", cfg.HTTPPort))
	if err := http.ListenAndServe(":"+cfg.HTTPPort, r); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}
