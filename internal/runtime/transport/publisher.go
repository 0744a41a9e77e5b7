package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	amqp091 "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
)

var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
)

// NewPublisher builds the publisher used for replies and the poison queue.
// It owns a separate connection so a broken consume channel does not take
// replies down with it. Messages go through the default exchange with the
// topic as routing key; queues are not declared on publish because reply
// queues are usually exclusive to the requester.
func NewPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	cfg := amqp.NewDurableQueueConfig(url)
	cfg.Marshaler = ReplyMarshaler{}

	conn, err := AmqpConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, &errspkg.TransportError{Op: "publisher_connect", Err: err}
	}
	publisher, err := AmqpPublisherFactory(cfg, logger, conn)
	if err != nil {
		_ = conn.Close()
		return nil, &errspkg.TransportError{Op: "publisher", Err: err}
	}
	return publisher, nil
}

// ReplyMarshaler maps gnssflow metadata onto AMQP properties: the
// correlation id and content type become properties and routing keys are not
// forwarded as headers.
type ReplyMarshaler struct {
	amqp.DefaultMarshaler
}

func (m ReplyMarshaler) Marshal(msg *message.Message) (amqp091.Publishing, error) {
	out := msg.Copy()
	correlationID := out.Metadata.Get(metadatapkg.KeyCorrelationID)
	contentType := out.Metadata.Get(metadatapkg.KeyContentType)
	delete(out.Metadata, metadatapkg.KeyDestination)
	delete(out.Metadata, metadatapkg.KeyContentType)

	publishing, err := m.DefaultMarshaler.Marshal(out)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	publishing.CorrelationId = correlationID
	publishing.MessageId = msg.UUID
	if contentType == "" {
		contentType = "application/json"
	}
	publishing.ContentType = contentType
	return publishing, nil
}

// RetryOptions bounds publish retries.
type RetryOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryingPublisher retries failed publishes a bounded number of times with
// a constant delay between attempts.
type RetryingPublisher struct {
	next   message.Publisher
	opts   RetryOptions
	logger loggingpkg.ServiceLogger
}

func NewRetryingPublisher(next message.Publisher, opts RetryOptions, logger loggingpkg.ServiceLogger) (*RetryingPublisher, error) {
	if next == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &RetryingPublisher{next: next, opts: opts, logger: logger}, nil
}

// Publish implements message.Publisher.
func (p *RetryingPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.PublishContext(context.Background(), topic, messages...)
}

// PublishContext publishes messages to topic, stopping early when ctx ends.
func (p *RetryingPublisher) PublishContext(ctx context.Context, topic string, messages ...*message.Message) error {
	if topic == "" {
		return errspkg.ErrMissingReplyTo
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := p.next.Publish(topic, messages...)
		if err != nil {
			p.logger.Error("Publish attempt failed", err, loggingpkg.LogFields{
				"topic":        topic,
				"attempt":      attempt,
				"max_attempts": p.opts.MaxAttempts,
			})
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.opts.Delay)),
		backoff.WithMaxTries(uint(p.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &errspkg.TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Close implements message.Publisher.
func (p *RetryingPublisher) Close() error {
	return p.next.Close()
}

// Publisher builds the reply publisher with the same bounded, doubling
// backoff Connect uses, so startup tolerates a broker that is still coming up.
func (m *ConnectionManager) Publisher(ctx context.Context, wmLogger watermill.LoggerAdapter) (message.Publisher, error) {
	attempt := 0
	publisher, err := backoff.Retry(ctx, func() (message.Publisher, error) {
		attempt++
		publisher, err := NewPublisher(m.opts.URL, wmLogger)
		if err != nil {
			m.logger.Error("Reply publisher connection attempt failed", err, loggingpkg.LogFields{
				"attempt":      attempt,
				"max_attempts": m.opts.MaxAttempts,
			})
		}
		return publisher, err
	},
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return publisher, nil
}
