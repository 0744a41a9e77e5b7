package runtime

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/gnssflow/internal/runtime/config"
	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/transport"
	"github.com/drblury/gnssflow/internal/runtime/transport/transporttest"
)

const waitFor = 2 * time.Second

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(loggingpkg.NewSlog(io.Discard, "debug", "text"))
}

func newTestStore(t *testing.T) *store.Manager {
	t.Helper()
	m, err := store.InitializePool(context.Background(), store.Options{
		Driver:     store.DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "runtime.db"),
		MaxRetries: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.EnsureSQLiteSchema(context.Background()))
	return m
}

func newTestConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.Queues = []string{"gnss_data_queue"}
	conf.ReplyMaxAttempts = 1
	conf.ReplyRetryDelay = time.Millisecond
	conf.ReconnectDelay = 10 * time.Millisecond
	conf.RequeueDelay = time.Millisecond
	conf.RetryMaxRetries = 1
	conf.RetryInitialInterval = time.Millisecond
	conf.RetryMaxInterval = time.Millisecond
	conf.StoreDriver = configpkg.DriverSQLite
	return &conf
}

// newTestService builds a service over a sqlite store, a recording publisher
// and a connector handing out the given channels.
func newTestService(t *testing.T, conf *configpkg.Config, channels ...*transporttest.Channel) (*Service, *testPublisher, *store.Manager) {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	m := newTestStore(t)
	pub := &testPublisher{}
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		Store:      m,
		Publisher:  pub,
		Connector:  newSessionConnector(channels...),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return svc, pub, m
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	messages  []*message.Message
	err       error
	closed    bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, topic)
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

func (p *testPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// sessionConnector hands out one fake session per channel, then fails.
type sessionConnector struct {
	mu       sync.Mutex
	sessions []*transport.Session
}

func newSessionConnector(channels ...*transporttest.Channel) *sessionConnector {
	c := &sessionConnector{}
	for _, ch := range channels {
		c.sessions = append(c.sessions, &transport.Session{Conn: transporttest.NewConnection(ch), Channel: ch})
	}
	return c
}

func (c *sessionConnector) Connect(context.Context) (*transport.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil, &errspkg.TransportError{Op: "connect", Err: errors.New("broker unavailable")}
	}
	s := c.sessions[0]
	c.sessions = c.sessions[1:]
	return s, nil
}

// recordingServiceLogger counts calls per level.
type recordingServiceLogger struct {
	mu     sync.Mutex
	debugs int
	infos  int
	warns  int
	errors int
}

func (r *recordingServiceLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }

func (r *recordingServiceLogger) Debug(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debugs++
}

func (r *recordingServiceLogger) Info(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos++
}

func (r *recordingServiceLogger) Warn(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns++
}

func (r *recordingServiceLogger) Error(string, error, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func (r *recordingServiceLogger) Trace(string, loggingpkg.LogFields) {}

func (r *recordingServiceLogger) counts() (debugs, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.debugs, r.errors
}
