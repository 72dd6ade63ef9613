// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/channel"
	"github.com/relaymark/relaymark-backend/internal/config"
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
	if err := broker.Declare(cfg.DispatchQueue); err != nil {
		zlog.Fatal("failed to declare queue", zap.Error(err))
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}

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

	go runScheduler(cfg, campaignRepo, broker, zlog)

	zlog.Info("worker running, waiting for dispatch jobs")
	err = broker.Consume(cfg.DispatchQueue, cfg.MaxQueueRedelivery, func(body []byte) error {
		var job queue.DispatchJob
		if err := json.Unmarshal(body, &job); err != nil {
			zlog.Warn("invalid dispatch job", zap.Error(err))
			return nil
		}

		result, err := dispatcher.Dispatch(context.Background(), job.TenantID, job.CampaignID)
		if err != nil {
			// Conflicts mean another run owns or already finished the
			// campaign; redelivering would not change that.
			if apperror.IsKind(err, apperror.KindConflict) || apperror.IsKind(err, apperror.KindNotFound) {
				zlog.Info("dispatch job skipped",
					zap.Int("campaign_id", job.CampaignID),
					zap.Error(err))
				return nil
			}
			zlog.Error("dispatch job failed",
				zap.Int("campaign_id", job.CampaignID),
				zap.Error(err))
			return err
		}

		zlog.Info("dispatch job done",
			zap.Int("campaign_id", result.CampaignID),
			zap.Int("sent", result.Sent),
			zap.Int("total", result.Total))
		return nil
	})
	if err != nil {
		zlog.Fatal("consumer stopped", zap.Error(err))
	}
}

// runScheduler polls for scheduled campaigns whose send time has passed
// and feeds them into the dispatch queue.
func runScheduler(cfg *config.Config, campaigns repository.CampaignRepositoryInterface, publisher queue.Publisher, zlog *zap.Logger) {
	ticker := time.NewTicker(cfg.SchedulerPoll)
	defer ticker.Stop()

	for range ticker.C {
		due, err := campaigns.ListDueScheduled(time.Now(), 100)
		if err != nil {
			zlog.Error("failed to list due campaigns", zap.Error(err))
			continue
		}
		for _, c := range due {
			job := queue.DispatchJob{CampaignID: c.ID, TenantID: c.TenantID}
			if err := publisher.Publish(cfg.DispatchQueue, job); err != nil {
				zlog.Error("failed to enqueue scheduled campaign",
					zap.Int("campaign_id", c.ID),
					zap.Error(err))
				continue
			}
			zlog.Info("scheduled campaign enqueued", zap.Int("campaign_id", c.ID))
		}
	}
}
