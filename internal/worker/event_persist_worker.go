package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"mediassist/internal/model"
)

type EventApplier interface {
	Apply(ctx context.Context, event model.AssistantEvent) (bool, error)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDrop
)

// EventPersistWorker consumes assistant events and writes them to the archive.
type EventPersistWorker struct {
	conn      *amqp.Connection
	repo      EventApplier
	queueName string
	prefetch  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventPersistWorker(conn *amqp.Connection, repo EventApplier, queueName string) *EventPersistWorker {
	return &EventPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		prefetch:  16,
	}
}

func (w *EventPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					slog.Warn("event delivery channel closed", "queue", w.queueName)
					return
				}
				switch w.handle(workerCtx, d.Body, d.Redelivered) {
				case outcomeAck:
					_ = d.Ack(false)
				case outcomeRequeue:
					_ = d.Nack(false, true)
				default:
					_ = d.Nack(false, false)
				}
			}
		}
	}()

	slog.Info("event persist worker started", "queue", w.queueName)
	return nil
}

// handle requeues a failed write once; a second failure drops the event.
func (w *EventPersistWorker) handle(ctx context.Context, body []byte, redelivered bool) outcome {
	var event model.AssistantEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("decode assistant event failed", "error", err)
		return outcomeDrop
	}
	if event.EventID == "" || event.ProfileID == 0 {
		slog.Error("assistant event missing identity", "event_id", event.EventID, "profile_id", event.ProfileID)
		return outcomeDrop
	}

	applied, err := w.repo.Apply(ctx, event)
	if err != nil {
		slog.Error("persist assistant event failed",
			"event_id", event.EventID,
			"kind", event.Kind,
			"redelivered", redelivered,
			"error", err,
		)
		if redelivered {
			return outcomeDrop
		}
		return outcomeRequeue
	}
	if !applied {
		slog.Debug("assistant event already stored", "event_id", event.EventID)
	}
	return outcomeAck
}

func (w *EventPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
