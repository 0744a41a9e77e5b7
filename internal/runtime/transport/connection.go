package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp091 "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
)

// Channel is the subset of *amqp091.Channel the consumer drives.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error
	Close() error
}

// Connection is the subset of *amqp091.Connection the consumer drives.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp091.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AmqpDialFactory opens broker connections. Tests replace it with fakes.
var AmqpDialFactory = func(url string, cfg amqp091.Config) (Connection, error) {
	conn, err := amqp091.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// ConnectionOptions bounds the connect loop.
type ConnectionOptions struct {
	URL          string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Heartbeat    time.Duration
	Prefetch     int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 10 * time.Second
	}
	if o.Prefetch < 1 {
		o.Prefetch = 1
	}
	return o
}

// ConnectionManager dials the broker with bounded, doubling backoff.
type ConnectionManager struct {
	opts   ConnectionOptions
	logger loggingpkg.ServiceLogger
}

func NewConnectionManager(opts ConnectionOptions, logger loggingpkg.ServiceLogger) *ConnectionManager {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &ConnectionManager{opts: opts.withDefaults(), logger: logger.With(loggingpkg.LogFields{"component": "connection_manager"})}
}

// Connect opens a connection and a channel with the configured prefetch. It
// retries up to MaxAttempts times, doubling the delay up to MaxDelay, and
// returns a *errors.TransportError wrapping the last failure once attempts
// are exhausted.
func (m *ConnectionManager) Connect(ctx context.Context) (*Session, error) {
	attempt := 0
	op := func() (*Session, error) {
		attempt++
		session, err := m.open()
		if err != nil {
			m.logger.Error("Broker connection attempt failed", err, loggingpkg.LogFields{
				"attempt":      attempt,
				"max_attempts": m.opts.MaxAttempts,
			})
			return nil, err
		}
		m.logger.Info("Connected to broker", loggingpkg.LogFields{"attempt": attempt})
		return session, nil
	}

	session, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			m.logger.Info("Retrying broker connection", loggingpkg.LogFields{"delay": delay.String()})
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errspkg.TransportError{Op: "connect", Err: err}
	}
	return session, nil
}

func (m *ConnectionManager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialDelay
	b.MaxInterval = m.opts.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (m *ConnectionManager) open() (*Session, error) {
	conn, err := AmqpDialFactory(m.opts.URL, amqp091.Config{
		Heartbeat: m.opts.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(m.opts.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Session{Conn: conn, Channel: ch}, nil
}

// Session pairs a connection with the one channel all queues share.
type Session struct {
	Conn    Connection
	Channel Channel

	closeOnce sync.Once
	closeErr  error
}

// Close releases the channel and connection. It is safe on a nil or already
// closed session.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		var errs []error
		if s.Channel != nil {
			if err := s.Channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.Conn != nil && !s.Conn.IsClosed() {
			if err := s.Conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
