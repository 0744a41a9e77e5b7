// Package transporttest provides in-memory broker fakes for tests.
package transporttest

import (
	"errors"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/gnssflow/internal/runtime/transport"
)

// Connection is a fake broker connection handing out one Channel.
type Connection struct {
	mu         sync.Mutex
	channel    *Channel
	channelErr error
	closed     bool
	notify     []chan *amqp091.Error
}

func NewConnection(ch *Channel) *Connection {
	return &Connection{channel: ch}
}

// FailChannel makes the next Channel call fail with err.
func (c *Connection) FailChannel(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelErr = err
}

func (c *Connection) Channel() (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	if c.channel == nil {
		c.channel = NewChannel()
	}
	return c.channel, nil
}

func (c *Connection) NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp091.ErrClosed
	}
	c.closed = true
	for _, ch := range c.notify {
		close(ch)
	}
	c.notify = nil
	return nil
}

// Drop simulates a broker side connection loss.
func (c *Connection) Drop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.notify {
		select {
		case ch <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: reason}:
		default:
		}
		close(ch)
	}
	c.notify = nil
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

// Channel is a fake AMQP channel. Deliveries are pushed per queue with
// Deliver and settled through Acks.
type Channel struct {
	mu         sync.Mutex
	queues     map[string]chan amqp091.Delivery
	declared   []string
	consumed   []string
	prefetch   int
	closed     bool
	notify     []chan *amqp091.Error
	declareErr error
	consumeErr error
	tag        uint64

	Acks *Acknowledger
}

func NewChannel() *Channel {
	return &Channel{queues: make(map[string]chan amqp091.Delivery), Acks: NewAcknowledger()}
}

// FailDeclare makes QueueDeclare fail with err.
func (c *Channel) FailDeclare(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declareErr = err
}

// FailConsume makes Consume fail with err.
func (c *Channel) FailConsume(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumeErr = err
}

func (c *Channel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *Channel) Prefetch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetch
}

func (c *Channel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp091.Queue{}, c.declareErr
	}
	if !durable {
		return amqp091.Queue{}, errors.New("transporttest: queues must be durable")
	}
	c.declared = append(c.declared, name)
	c.queueLocked(name)
	return amqp091.Queue{Name: name}, nil
}

func (c *Channel) Declared() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.declared...)
}

func (c *Channel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	if autoAck {
		return nil, errors.New("transporttest: auto ack is not allowed")
	}
	c.consumed = append(c.consumed, queue)
	return c.queueLocked(queue), nil
}

func (c *Channel) Consumed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.consumed...)
}

func (c *Channel) queueLocked(name string) chan amqp091.Delivery {
	q, ok := c.queues[name]
	if !ok {
		q = make(chan amqp091.Delivery, 64)
		c.queues[name] = q
	}
	return q
}

// Deliver pushes a delivery onto queue and returns its tag.
func (c *Channel) Deliver(queue string, d amqp091.Delivery) uint64 {
	c.mu.Lock()
	c.tag++
	d.DeliveryTag = c.tag
	d.Acknowledger = c.Acks
	q := c.queueLocked(queue)
	c.mu.Unlock()
	q <- d
	return d.DeliveryTag
}

func (c *Channel) NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp091.ErrClosed
	}
	c.closed = true
	for _, ch := range c.notify {
		close(ch)
	}
	c.notify = nil
	for name, q := range c.queues {
		close(q)
		delete(c.queues, name)
	}
	return nil
}

// Outcome records how a delivery was settled.
type Outcome struct {
	Tag     uint64
	Ack     bool
	Requeue bool
}

// Acknowledger records acks and nacks.
type Acknowledger struct {
	mu       sync.Mutex
	outcomes []Outcome
	settled  chan Outcome
}

func NewAcknowledger() *Acknowledger {
	return &Acknowledger{settled: make(chan Outcome, 256)}
}

func (a *Acknowledger) record(o Outcome) {
	a.mu.Lock()
	a.outcomes = append(a.outcomes, o)
	a.mu.Unlock()
	a.settled <- o
}

func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.record(Outcome{Tag: tag, Ack: true})
	return nil
}

func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.record(Outcome{Tag: tag, Requeue: requeue})
	return nil
}

func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	a.record(Outcome{Tag: tag, Requeue: requeue})
	return nil
}

// Settled delivers every outcome as it is recorded.
func (a *Acknowledger) Settled() <-chan Outcome {
	return a.settled
}

func (a *Acknowledger) Outcomes() []Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Outcome(nil), a.outcomes...)
}

// Dialer returns a dial function that fails failures times and then hands
// out conns in order. The returned counter reports the number of dials.
func Dialer(failures int, dialErr error, conns ...*Connection) (func(string, amqp091.Config) (transport.Connection, error), func() int) {
	var (
		mu    sync.Mutex
		calls int
		next  int
	)
	dial := func(string, amqp091.Config) (transport.Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failures {
			return nil, dialErr
		}
		if next >= len(conns) {
			return nil, dialErr
		}
		conn := conns[next]
		next++
		return conn, nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	return dial, count
}
