package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	delayedExchange = "wordmint.delayed"
	sendQueue       = "wordmint.notify.send"
	sendRoutingKey  = "notify.send"
)

type triggerMessage struct {
	Job     string `json:"job"`
	GroupID string `json:"group_id"`
}

// AMQP schedules one-shot triggers through a RabbitMQ delayed-message
// exchange. A broker outage means skipped triggers, not duplicates; the
// backup sweep picks those groups up from the due index.
type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

// NewAMQP dials the broker and declares the delayed exchange, the send
// queue, and their binding.
func NewAMQP(url string, log *zap.Logger) (*AMQP, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(delayedExchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "direct"})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare delayed exchange: %w", err)
	}
	queue, err := ch.QueueDeclare(sendQueue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare send queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, sendRoutingKey, delayedExchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind send queue: %w", err)
	}
	return &AMQP{conn: conn, ch: ch, log: log}, nil
}

func (a *AMQP) Register(ctx context.Context, name string, runAt time.Time, groupID string) error {
	body, err := json.Marshal(triggerMessage{Job: name, GroupID: groupID})
	if err != nil {
		return fmt.Errorf("encode trigger %s: %w", name, err)
	}
	delay := time.Until(runAt).Milliseconds()
	if delay < 0 {
		delay = 0
	}
	err = a.ch.PublishWithContext(ctx, delayedExchange, sendRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-delay": delay},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish trigger %s: %w", name, err)
	}
	return nil
}

// Consume delivers fired triggers to handler until ctx is cancelled. Handler
// failures are acked anyway: a failed delivery attempt has already re-queued
// the group into the due index, so broker redelivery would only race the
// sweep for an already-claimed group.
func (a *AMQP) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := a.ch.Consume(sendQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume send queue: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("send queue channel closed")
			}
			var tm triggerMessage
			if err := json.Unmarshal(msg.Body, &tm); err != nil {
				a.log.Warn("dropping malformed trigger message", zap.Error(err))
				_ = msg.Ack(false)
				continue
			}
			if err := handler(ctx, tm.GroupID); err != nil {
				a.log.Warn("trigger handler failed; sweep will retry",
					zap.String("job", tm.Job), zap.String("group_id", tm.GroupID), zap.Error(err))
			}
			_ = msg.Ack(false)
		}
	}
}

func (a *AMQP) Close() error {
	if err := a.ch.Close(); err != nil {
		a.conn.Close()
		return err
	}
	return a.conn.Close()
}
