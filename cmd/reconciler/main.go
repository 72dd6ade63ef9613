// cmd/reconciler/main.go
package main

import (
	"encoding/json"
	"log"

	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
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
	if err := broker.Declare(cfg.DeliveryEventQueue); err != nil {
		zlog.Fatal("failed to declare queue", zap.Error(err))
	}

	reconciler := &service.Reconciler{
		MessageRepo: &repository.MessageRepository{DB: conn},
		Log:         zlog,
	}

	zlog.Info("reconciler running, waiting for delivery events")
	err = broker.Consume(cfg.DeliveryEventQueue, cfg.MaxQueueRedelivery, func(body []byte) error {
		var event model.DeliveryEvent
		if err := json.Unmarshal(body, &event); err != nil {
			zlog.Warn("invalid delivery event", zap.Error(err))
			return nil
		}

		if err := reconciler.Apply(event); err != nil {
			// Malformed events will never become applicable.
			if apperror.IsKind(err, apperror.KindValidation) {
				zlog.Warn("unprocessable delivery event",
					zap.String("kind", event.Kind),
					zap.Error(err))
				return nil
			}
			zlog.Error("failed to apply delivery event",
				zap.String("provider_message_id", event.ProviderMessageID),
				zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		zlog.Fatal("consumer stopped", zap.Error(err))
	}
}
