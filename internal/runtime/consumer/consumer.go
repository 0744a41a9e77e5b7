package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	amqp091 "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
	"github.com/drblury/gnssflow/internal/runtime/transport"
)

// Connector opens broker sessions. *transport.ConnectionManager satisfies it.
type Connector interface {
	Connect(ctx context.Context) (*transport.Session, error)
}

// Replier publishes handler outputs. *transport.RetryingPublisher satisfies it.
type Replier interface {
	PublishContext(ctx context.Context, topic string, messages ...*message.Message) error
}

// Options configures a Consumer.
type Options struct {
	Queues         []string
	PoisonQueue    string
	ConsumerTag    string
	ReconnectDelay time.Duration
	RequeueDelay   time.Duration
}

// Consumer drives the DISCONNECTED, CONNECTING, SUBSCRIBED, CONSUMING, ERROR
// and CLOSED cycle. All queues share one channel and deliveries are handled
// one at a time.
type Consumer struct {
	connector Connector
	handler   message.HandlerFunc
	replies   Replier
	opts      Options
	logger    loggingpkg.ServiceLogger
	observer  Observer

	state atomic.Int32
}

// New validates the collaborators and returns an idle consumer.
func New(connector Connector, handler message.HandlerFunc, replies Replier, opts Options, logger loggingpkg.ServiceLogger, observer Observer) (*Consumer, error) {
	if connector == nil {
		return nil, errspkg.ErrConnectorRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	queues := make([]string, 0, len(opts.Queues))
	for _, q := range opts.Queues {
		if q = strings.TrimSpace(q); q != "" {
			queues = append(queues, q)
		}
	}
	if len(queues) == 0 {
		return nil, errspkg.ErrNoQueues
	}
	opts.Queues = queues
	if opts.ConsumerTag == "" {
		opts.ConsumerTag = "gnssflow"
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	c := &Consumer{
		connector: connector,
		handler:   handler,
		replies:   replies,
		opts:      opts,
		logger:    logger.With(loggingpkg.LogFields{"component": "consumer"}),
		observer:  observer,
	}
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug("Consumer state changed", loggingpkg.LogFields{"state": s.String()})
	c.observer.StateChanged(s)
}

// Run consumes until ctx is cancelled. A failure to connect on the first
// cycle is returned to the caller; afterwards every transport failure sends
// the consumer through ERROR back to CONNECTING after the reconnect delay.
// Run returns nil once ctx is cancelled and the current message is settled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	first := true
	for {
		c.setState(StateConnecting)
		session, err := c.connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if first {
				return err
			}
			c.setState(StateError)
			c.logger.Error("Reconnect failed", err, loggingpkg.LogFields{"retry_in": c.opts.ReconnectDelay.String()})
			if !sleep(ctx, c.opts.ReconnectDelay) {
				return nil
			}
			continue
		}
		if !first {
			c.observer.Reconnected()
		}
		first = false

		err = c.consume(ctx, session)
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Debug("Closing broker session failed", loggingpkg.LogFields{"error": closeErr.Error()})
		}
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateError)
		c.logger.Error("Consumption interrupted", err, loggingpkg.LogFields{"retry_in": c.opts.ReconnectDelay.String()})
		if !sleep(ctx, c.opts.ReconnectDelay) {
			return nil
		}
	}
}

type delivery struct {
	queue string
	amqp091.Delivery
}

// consume subscribes every queue on the session channel and handles
// deliveries until the session fails or ctx ends.
func (c *Consumer) consume(ctx context.Context, session *transport.Session) error {
	ch := session.Channel
	if err := c.declare(ch); err != nil {
		return err
	}

	connClosed := session.Conn.NotifyClose(make(chan *amqp091.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp091.Error, 1))

	streams := make(map[string]<-chan amqp091.Delivery, len(c.opts.Queues))
	for _, q := range c.opts.Queues {
		stream, err := ch.Consume(q, c.opts.ConsumerTag+"."+q, false, false, false, false, nil)
		if err != nil {
			return &errspkg.TransportError{Op: "consume " + q, Err: err}
		}
		streams[q] = stream
	}
	c.setState(StateSubscribed)
	c.logger.Info("Subscribed to queues", loggingpkg.LogFields{"queues": c.opts.Queues})

	merged := make(chan delivery)
	ended := make(chan string, len(streams))
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		wg.Wait()
	}()
	for q, stream := range streams {
		wg.Add(1)
		go func(queue string, stream <-chan amqp091.Delivery) {
			defer wg.Done()
			for {
				select {
				case d, ok := <-stream:
					if !ok {
						ended <- queue
						return
					}
					select {
					case merged <- delivery{queue: queue, Delivery: d}:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(q, stream)
	}

	c.setState(StateConsuming)
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-connClosed:
			return closedError("connection", amqpErr)
		case amqpErr := <-chanClosed:
			return closedError("channel", amqpErr)
		case q := <-ended:
			return &errspkg.TransportError{Op: "consume " + q, Err: errspkg.ErrSessionClosed}
		case d := <-merged:
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) declare(ch transport.Channel) error {
	queues := c.opts.Queues
	if c.opts.PoisonQueue != "" {
		queues = append(append([]string(nil), queues...), c.opts.PoisonQueue)
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return &errspkg.TransportError{Op: "declare " + q, Err: err}
		}
	}
	return nil
}

func closedError(what string, amqpErr *amqp091.Error) error {
	if amqpErr == nil {
		return &errspkg.TransportError{Op: what + "_closed", Err: errspkg.ErrSessionClosed}
	}
	return &errspkg.TransportError{Op: what + "_closed", Err: amqpErr}
}

// handle runs one delivery through the handler, settles it and publishes
// replies. The message context is detached from ctx so a shutdown lets the
// current message finish.
func (c *Consumer) handle(ctx context.Context, d delivery) {
	start := time.Now()
	c.observer.Received(d.queue)

	msgCtx := context.WithoutCancel(ctx)
	msg := transport.ToMessage(msgCtx, d.Delivery, d.queue)
	log := c.logger.With(loggingpkg.LogFields{
		"queue":          d.queue,
		"message_uuid":   msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
	})

	outputs, err := c.invoke(msg)
	messageType := msg.Metadata.Get(metadatapkg.KeyMessageType)
	outcome := c.settle(ctx, d, msg, err, log.With(loggingpkg.LogFields{"type": messageType}))
	c.observer.Settled(d.queue, messageType, outcome, time.Since(start))

	if err == nil && len(outputs) > 0 {
		c.reply(msgCtx, outputs, log)
	}
}

func (c *Consumer) invoke(msg *message.Message) (outputs []*message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.DecodeError{Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()
	return c.handler(msg)
}

func (c *Consumer) settle(ctx context.Context, d delivery, msg *message.Message, err error, log loggingpkg.ServiceLogger) Outcome {
	switch {
	case err == nil:
		c.ack(d, log)
		if reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey); reason != "" {
			log.Warn("Message moved to poison queue", loggingpkg.LogFields{
				"poison_queue": c.opts.PoisonQueue,
				"reason":       reason,
			})
			return OutcomePoisoned
		}
		return OutcomeAcked

	case errspkg.Classify(err) == errspkg.KindValidation:
		log.Warn("Dropping invalid payload", loggingpkg.LogFields{"error": err.Error()})
		c.ack(d, log)
		return OutcomeDropped

	case errspkg.IsTransient(err):
		log.Error("Message processing failed, requeueing", err, loggingpkg.LogFields{
			"kind":        errspkg.Classify(err).String(),
			"redelivered": d.Redelivered,
		})
		sleep(ctx, c.opts.RequeueDelay)
		c.nack(d, true, log)
		return OutcomeRequeued

	default:
		log.Error("Rejecting message", err, loggingpkg.LogFields{"kind": errspkg.Classify(err).String()})
		c.nack(d, false, log)
		return OutcomeRejected
	}
}

func (c *Consumer) ack(d delivery, log loggingpkg.ServiceLogger) {
	if err := d.Ack(false); err != nil {
		log.Error("Failed to ack message", err, nil)
	}
}

func (c *Consumer) nack(d delivery, requeue bool, log loggingpkg.ServiceLogger) {
	if err := d.Nack(false, requeue); err != nil {
		log.Error("Failed to nack message", err, loggingpkg.LogFields{"requeue": requeue})
	}
}

// reply publishes outputs to their destinations. The request is already
// acknowledged, so a reply that still fails after the publisher's retries is
// logged and abandoned.
func (c *Consumer) reply(ctx context.Context, outputs []*message.Message, log loggingpkg.ServiceLogger) {
	for _, out := range outputs {
		dest := out.Metadata.Get(metadatapkg.KeyDestination)
		fields := loggingpkg.LogFields{"reply_to": dest, "reply_uuid": out.UUID}
		if dest == "" {
			log.Warn("Discarding output without destination", fields)
			c.observer.Replied(false)
			continue
		}
		if c.replies == nil {
			log.Error("Abandoning reply", errspkg.ErrPublisherRequired, fields)
			c.observer.Replied(false)
			continue
		}
		if err := c.replies.PublishContext(ctx, dest, out); err != nil {
			log.Error("Abandoning reply", err, fields)
			c.observer.Replied(false)
			continue
		}
		log.Debug("Reply published", fields)
		c.observer.Replied(true)
	}
}

// sleep waits for d or until ctx ends. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
