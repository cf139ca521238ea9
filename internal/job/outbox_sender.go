package job

import (
	"context"
	"errors"
	"time"

	"arcadepay/internal/model"

	"github.com/sirupsen/logrus"
)

// Publisher delivers one message to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type OutboxSenderConfig struct {
	Interval      time.Duration
	BatchSize     int
	MaxRetryCount int
}

// OutboxSender drains PENDING outbox messages to the publisher.
//
// The ledger writes each event row in the same transaction as the balance
// change, so an event exists if and only if the change committed. This job
// is the only reader of those rows:
//
//   PENDING --publish ok--> SENT
//   PENDING --publish err--> PENDING, retry_count+1
//   PENDING --publish err, retry_count+1 == max--> FAILED (kept for inspection)
//
// Delivery is at least once: a crash between publish and MarkAsSent resends
// the message on the next tick, so consumers dedupe on the event id.
type OutboxSender struct {
	store     OutboxStore
	publisher Publisher
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	maxRetry  int
	log       logrus.FieldLogger
}

func NewOutboxSender(store OutboxStore, publisher Publisher, cfg OutboxSenderConfig, log logrus.FieldLogger) *OutboxSender {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 5
	}
	return &OutboxSender{
		store:     store,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		maxRetry:  cfg.MaxRetryCount,
		log:       log.WithField("job", "outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender stopped: context done")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages handles one batch and returns how many were sent.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("query pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		updateErr := s.store.MarkAsSent(ctx, msg.ID)
		switch {
		case errors.Is(updateErr, model.ErrOutboxMessageNotFound):
			// row removed after it was read; the publish already happened
			log.Warn("outbox message vanished before it was marked sent")
		case updateErr != nil:
			log.WithError(updateErr).Error("mark outbox message sent")
		default:
			log.Debug("outbox message sent")
		}
		return true
	}

	log = log.WithError(err).WithField("retry_count", msg.RetryCount+1)
	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			log.WithError(err).Error("mark outbox message failed")
			return false
		}
		log.Error("outbox message exceeded max retries, marked FAILED")
		return false
	}

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.WithError(err).Error("increment outbox retry count")
		return false
	}
	log.Warn("publish outbox message failed, will retry")
	return false
}
