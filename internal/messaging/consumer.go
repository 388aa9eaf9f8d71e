package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// CommandHandler processes one email command.
type CommandHandler func(ctx context.Context, cmd *EmailCommand) error

// EmailConsumer drains the outbound mail queue into a handler. Malformed
// messages are dropped; handler failures are requeued once.
type EmailConsumer struct {
	rmq     *RabbitMQ
	handler CommandHandler
}

func NewEmailConsumer(rmq *RabbitMQ, handler CommandHandler) *EmailConsumer {
	return &EmailConsumer{rmq: rmq, handler: handler}
}

func (c *EmailConsumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.ConsumeEmailCommands()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping email consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("email consumer channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *EmailConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	var cmd EmailCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		slog.Error("dropping malformed email command",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(msg.Body)))
		_ = msg.Nack(false, false)
		return
	}

	if err := c.handler(ctx, &cmd); err != nil {
		slog.Error("email command failed",
			slog.String("type", cmd.Type),
			slog.String("error", err.Error()))
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}

	_ = msg.Ack(false)
}
