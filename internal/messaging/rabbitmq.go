package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	mailExchange = "mail.commands"
	mailQueue    = "mail.outbound"
	mailBinding  = "mail.*"
)

// Email command types.
const (
	EmailVerification  = "verify_email"
	EmailPasswordReset = "password_reset"
)

// EmailCommand asks the delivery service to send one account email. Link
// carries a single-use secret.
type EmailCommand struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	Link      string `json:"link"`
	Timestamp int64  `json:"timestamp"`
}

// RabbitMQ publishes account email commands. It implements domain.Mailer.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry dials until the broker accepts the connection or ctx
// ends. Brokers started alongside the service often need a few seconds.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}

		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

// Setup declares the mail exchange and the durable outbound queue.
func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		mailExchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare mail exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		mailQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", mailQueue, err)
	}

	if err := r.channel.QueueBind(mailQueue, mailBinding, mailExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", mailQueue, err)
	}

	slog.Info("rabbitmq setup completed", slog.String("exchange", mailExchange))
	return nil
}

func (r *RabbitMQ) PublishEmailCommand(ctx context.Context, cmd *EmailCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal email command: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		mailExchange,
		"mail."+cmd.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish email command: %w", err)
	}

	slog.Info("published email command", slog.String("type", cmd.Type))
	return nil
}

func (r *RabbitMQ) SendVerificationEmail(ctx context.Context, to, link string) error {
	return r.PublishEmailCommand(ctx, newEmailCommand(EmailVerification, to, link))
}

func (r *RabbitMQ) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	return r.PublishEmailCommand(ctx, newEmailCommand(EmailPasswordReset, to, link))
}

func newEmailCommand(kind, to, link string) *EmailCommand {
	return &EmailCommand{
		Type:      kind,
		To:        to,
		Link:      link,
		Timestamp: time.Now().Unix(),
	}
}

// ConsumeEmailCommands starts a manual-ack consumer on the outbound queue.
func (r *RabbitMQ) ConsumeEmailCommands() (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(
		mailQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming email commands", slog.String("queue", mailQueue))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
