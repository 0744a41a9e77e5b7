package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/gnssflow/internal/runtime/config"
	"github.com/drblury/gnssflow/internal/runtime/consumer"
	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/transport/transporttest"
)

// runService starts svc and returns a stop function waiting for Start to
// return.
func runService(t *testing.T, svc *Service) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return svc.State() == consumer.StateConsuming
	}, waitFor, 5*time.Millisecond)

	var stopped bool
	var result error
	stop := func() error {
		if stopped {
			return result
		}
		stopped = true
		cancel()
		select {
		case result = <-done:
		case <-time.After(waitFor):
			t.Fatal("service did not stop")
		}
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitSettled(t *testing.T, ch *transporttest.Channel) transporttest.Outcome {
	t.Helper()
	select {
	case o := <-ch.Acks.Settled():
		return o
	case <-time.After(waitFor):
		t.Fatal("delivery was not settled")
		return transporttest.Outcome{}
	}
}

func TestServiceIngestsTelemetryAndRepliesToRegistrations(t *testing.T) {
	ch := transporttest.NewChannel()
	svc, pub, m := newTestService(t, nil, ch)
	stop := runService(t, svc)

	ch.Deliver("gnss_data_queue", amqp091.Delivery{
		Body: []byte(`{"type":"GNGGA","full_time":1,"device_id":1}`),
	})
	assert.True(t, waitSettled(t, ch).Ack)

	rows, err := m.Select(context.Background(), store.TableGNGGA, []string{"device_id"}, store.Record{"device_id": 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	ch.Deliver("gnss_data_queue", amqp091.Delivery{
		Body:          []byte(`{"type":"device_registration","alias":"dev-1","region":"north"}`),
		ReplyTo:       "client.reply.1",
		CorrelationId: "abc",
	})
	assert.True(t, waitSettled(t, ch).Ack)

	require.Eventually(t, func() bool { return len(pub.Topics()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"client.reply.1"}, pub.Topics())
	reply := pub.Messages()[0]
	assert.Equal(t, "abc", reply.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.NotEmpty(t, reply.Payload)

	rec := httptest.NewRecorder()
	svc.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return svc.Stats().Replies.Published == 1 }, waitFor, 5*time.Millisecond)
	snap := svc.Stats()
	require.Len(t, snap.Queues, 1)
	assert.Equal(t, uint64(2), snap.Queues[0].Acked)
	assert.Equal(t, map[string]uint64{"GNGGA": 1, "device_registration": 1}, snap.Queues[0].ByType)

	require.NoError(t, stop())
	assert.True(t, pub.Closed())
	assert.Equal(t, consumer.StateClosed, svc.State())
	require.NoError(t, m.Ping(context.Background()), "an injected store stays open")
}

func TestServiceRepliesWithCorrelationIDFromBody(t *testing.T) {
	ch := transporttest.NewChannel()
	svc, pub, _ := newTestService(t, nil, ch)
	runService(t, svc)

	ch.Deliver("gnss_data_queue", amqp091.Delivery{
		Body: []byte(`{"type":"device_registration","alias":"dev-42","region":"west","reply_to":"client.reply.1","correlation_id":"abc"}`),
	})
	assert.True(t, waitSettled(t, ch).Ack)

	require.Eventually(t, func() bool { return len(pub.Topics()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"client.reply.1"}, pub.Topics())
	reply := pub.Messages()[0]
	assert.Equal(t, "abc", reply.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, "1", string(reply.Payload))
}

func TestServicePoisonsUnsupportedMessages(t *testing.T) {
	conf := newTestConfig()
	conf.PoisonQueue = "gnss_poison"
	ch := transporttest.NewChannel()
	svc, pub, _ := newTestService(t, conf, ch)
	runService(t, svc)

	assert.Contains(t, ch.Declared(), "gnss_poison")

	ch.Deliver("gnss_data_queue", amqp091.Delivery{Body: []byte(`{"type":"GPRMC"}`)})
	assert.True(t, waitSettled(t, ch).Ack)
	assert.Equal(t, []string{"gnss_poison"}, pub.Topics())

	require.Eventually(t, func() bool {
		return svc.Stats().Queues[0].Poisoned == 1
	}, waitFor, 5*time.Millisecond)
}

func TestServiceRejectsUnsupportedMessagesWithoutPoisonQueue(t *testing.T) {
	ch := transporttest.NewChannel()
	svc, pub, _ := newTestService(t, nil, ch)
	runService(t, svc)

	ch.Deliver("gnss_data_queue", amqp091.Delivery{Body: []byte(`not json`)})
	outcome := waitSettled(t, ch)
	assert.False(t, outcome.Ack)
	assert.False(t, outcome.Requeue)
	assert.Empty(t, pub.Topics())
}

func TestServiceExportsMetrics(t *testing.T) {
	conf := newTestConfig()
	conf.MetricsEnabled = true
	conf.MetricsPort = 9464
	reg := prometheus.NewRegistry()
	ch := transporttest.NewChannel()

	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		Store:      newTestStore(t),
		Publisher:  &testPublisher{},
		Connector:  newSessionConnector(ch),
		Registerer: reg,
	})
	require.NoError(t, err)
	assert.Contains(t, svc.Middlewares(), "metrics")

	mux, ok := svc.httpServers[9464]
	require.True(t, ok)

	// Start would bind the metrics port, so drive the consumer directly.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Close()
	})
	require.Eventually(t, func() bool { return svc.State() == consumer.StateConsuming }, waitFor, 5*time.Millisecond)

	ch.Deliver("gnss_data_queue", amqp091.Delivery{Body: []byte(`{"type":"GNGGA","full_time":1,"device_id":1}`)})
	waitSettled(t, ch)

	require.Eventually(t, func() bool {
		families, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, f := range families {
			if f.GetName() == "gnssflow_messages_total" {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gnssflow_messages_total{outcome="acked",queue="gnss_data_queue",type="GNGGA"} 1`)
	assert.Contains(t, rec.Body.String(), "gnssflow_consumer_state")
}

func TestServiceStartFailsWhenBrokerIsUnreachable(t *testing.T) {
	svc, pub, _ := newTestService(t, nil)

	err := svc.Start(context.Background())
	var transportErr *errspkg.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, pub.Closed())
	assert.Equal(t, consumer.StateClosed, svc.State())
}

func TestNewServiceRequiresConfig(t *testing.T) {
	_, err := NewService(nil, nil, context.Background(), ServiceDependencies{})
	assert.Error(t, err)
}

func TestNewServiceReportsStoreInitFailure(t *testing.T) {
	original := storeInit
	t.Cleanup(func() { storeInit = original })

	poolErr := &errspkg.PoolExhaustionError{Attempts: 3, Err: errors.New("connection refused")}
	storeInit = func(context.Context, store.Options, loggingpkg.ServiceLogger) (*store.Manager, error) {
		return nil, poolErr
	}

	pub := &testPublisher{}
	_, err := NewService(newTestConfig(), newTestLogger(), context.Background(), ServiceDependencies{
		Publisher: pub,
		Connector: newSessionConnector(),
	})
	assert.ErrorIs(t, err, poolErr)
	assert.Empty(t, pub.Topics())
}

func TestNewServiceOpensConfiguredSQLiteStore(t *testing.T) {
	conf := newTestConfig()
	conf.PostgresURL = t.TempDir() + "/gnss.db"

	pub := &testPublisher{}
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		Publisher:  pub,
		Connector:  newSessionConnector(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.True(t, svc.ownsStore)

	_, err = svc.store.Select(context.Background(), store.TableHardware, []string{"id"}, store.Record{"alias": "none"})
	require.NoError(t, err, "schema is prepared")

	require.NoError(t, svc.Close())
	assert.Error(t, svc.store.Ping(context.Background()), "an owned store is closed")
	require.NoError(t, svc.Close())
}

func TestNewServiceMiddlewareRegistration(t *testing.T) {
	t.Run("default chain", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		assert.Equal(t, []string{"correlation_id", "log_messages", "tracer", "retry", "recoverer"}, svc.Middlewares())
	})

	t.Run("disabled defaults with hooks and custom middleware", func(t *testing.T) {
		svc, err := NewService(newTestConfig(), newTestLogger(), context.Background(), ServiceDependencies{
			Store:                     newTestStore(t),
			Publisher:                 &testPublisher{},
			Connector:                 newSessionConnector(),
			DisableDefaultMiddlewares: true,
			Hooks:                     &JobHooks{},
			Middlewares: []MiddlewareRegistration{{
				Name:       "custom",
				Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h },
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"job_hooks", "custom"}, svc.Middlewares())
	})

	t.Run("builder failure closes publisher", func(t *testing.T) {
		pub := &testPublisher{}
		_, err := NewService(newTestConfig(), newTestLogger(), context.Background(), ServiceDependencies{
			Store:     newTestStore(t),
			Publisher: pub,
			Connector: newSessionConnector(),
			Middlewares: []MiddlewareRegistration{{
				Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errors.New("boom") },
			}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anonymous_middleware")
		assert.True(t, pub.Closed())
	})
}

func TestServiceStateBeforeStart(t *testing.T) {
	svc := &Service{Conf: &configpkg.Config{}, Logger: newTestLogger(), stats: NewStats(nil)}
	assert.Equal(t, consumer.StateDisconnected, svc.State())
	assert.Nil(t, svc.Stats().Pool)
}
