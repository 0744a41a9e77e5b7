package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/gnssflow/internal/runtime/config"
	"github.com/drblury/gnssflow/internal/runtime/consumer"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/processors"
	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/transport"
)

var (
	storeInit = store.InitializePool

	consumerRun = func(c *consumer.Consumer, ctx context.Context) error {
		return c.Run(ctx)
	}
)

// ServiceDependencies holds optional collaborators. Nil fields are built from
// the configuration.
type ServiceDependencies struct {
	// Store replaces the pool opened from the configuration. The caller keeps
	// ownership and closes it.
	Store *store.Manager
	// Publisher carries replies and poison messages. It is wrapped with
	// bounded publish retries and closed by the service.
	Publisher message.Publisher
	// Connector replaces the broker Connection Manager.
	Connector consumer.Connector
	// Registerer receives the Prometheus collectors when metrics are enabled.
	Registerer prometheus.Registerer

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Hooks                     *JobHooks

	// Clock overrides the time source used for registration defaults.
	Clock func() time.Time
}

// Service wires the store, dispatcher, middleware chain and consumer.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	store      *store.Manager
	ownsStore  bool
	dispatcher *processors.Dispatcher
	publisher  *transport.RetryingPublisher
	consumer   *consumer.Consumer
	stats      *Stats

	registerer     prometheus.Registerer
	metricsBuilder *metrics.PrometheusMetricsBuilder

	middlewares     []message.HandlerMiddleware
	middlewareNames []string
	middlewaresMu   sync.Mutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService opens the store pool and the reply publisher, both with bounded
// retries, and assembles the consumer. Any error is a startup failure and the
// caller should exit.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (_ *Service, err error) {
	if conf == nil {
		return nil, errors.New("gnssflow: config is required")
	}
	if log == nil {
		log = loggingpkg.NopLogger()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating ingestion service", loggingpkg.LogFields{
		"queues":       conf.Queues,
		"poison_queue": conf.PoisonQueue,
		"store_driver": conf.StoreDriver,
		"config":       conf.String(),
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		stats:      NewStats(conf.Queues),
		registerer: deps.Registerer,
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}

	connections := transport.NewConnectionManager(transport.ConnectionOptions{
		URL:          conf.AMQPURL(),
		MaxAttempts:  conf.ConnectMaxAttempts,
		InitialDelay: conf.ConnectInitialDelay,
		MaxDelay:     conf.ConnectMaxDelay,
		Heartbeat:    conf.Heartbeat,
		Prefetch:     conf.Prefetch,
	}, log)
	var connector consumer.Connector = connections
	if deps.Connector != nil {
		connector = deps.Connector
	}

	if err := s.openStore(ctx, deps.Store); err != nil {
		return nil, err
	}

	var dispatcherOpts []processors.DispatcherOption
	if deps.Clock != nil {
		dispatcherOpts = append(dispatcherOpts, processors.WithClock(deps.Clock))
	}
	if s.dispatcher, err = processors.NewDispatcher(s.store, log, dispatcherOpts...); err != nil {
		return nil, err
	}

	observer := observers{s.stats}
	if conf.MetricsEnabled {
		ingest, err := newIngestMetrics(s.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		observer = append(observer, ingest)
		builder := newMetricsBuilder(s)
		s.metricsBuilder = &builder
		if conf.MetricsPort > 0 {
			s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", s.metricsHandler())
		}
	}

	pub := deps.Publisher
	if pub == nil {
		if pub, err = connections.Publisher(ctx, wmLogger); err != nil {
			return nil, err
		}
	}
	if s.metricsBuilder != nil {
		decorated, err := s.metricsBuilder.DecoratePublisher(pub)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("decorate publisher: %w", err)
		}
		pub = decorated
	}
	if s.publisher, err = transport.NewRetryingPublisher(pub, transport.RetryOptions{
		MaxAttempts: conf.ReplyMaxAttempts,
		Delay:       conf.ReplyRetryDelay,
	}, log); err != nil {
		return nil, err
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	handler, err := processors.BuildHandler(s.dispatcher, log)
	if err != nil {
		return nil, err
	}
	s.consumer, err = consumer.New(connector, s.wrap(handler), s.publisher, consumer.Options{
		Queues:         conf.Queues,
		PoisonQueue:    conf.PoisonQueue,
		ConsumerTag:    conf.ConsumerTag,
		ReconnectDelay: conf.ReconnectDelay,
		RequeueDelay:   conf.RequeueDelay,
	}, log, observer)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) openStore(ctx context.Context, injected *store.Manager) error {
	if injected != nil {
		s.store = injected
		return nil
	}
	m, err := storeInit(ctx, store.Options{
		Driver:           s.Conf.StoreDriver,
		DSN:              s.Conf.StoreDSN(),
		MinConns:         s.Conf.PoolMinConns,
		MaxConns:         s.Conf.PoolMaxConns,
		MaxRetries:       s.Conf.PoolInitMaxRetries,
		InitialDelay:     s.Conf.PoolInitDelay,
		OperationTimeout: s.Conf.StoreOperationTimeout,
	}, s.Logger)
	if err != nil {
		return err
	}
	s.store = m
	s.ownsStore = true
	if strings.EqualFold(s.Conf.StoreDriver, configpkg.DriverSQLite) {
		if err := m.EnsureSQLiteSchema(ctx); err != nil {
			return fmt.Errorf("prepare sqlite schema: %w", err)
		}
	}
	return nil
}

// Start serves the HTTP endpoints and consumes until ctx is cancelled. The
// message being handled at that moment is settled before the broker session,
// the publisher and the store pool close, in that order.
func (s *Service) Start(ctx context.Context) error {
	s.StartStatusServer()
	stopHTTP := s.startHTTPServers()

	runErr := consumerRun(s.consumer, ctx)

	stopHTTP()
	closeErr := s.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Close releases the publisher and the store pool it opened. It is safe to
// call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.publisher != nil {
			if err := s.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher: %w", err))
			}
		}
		if s.store != nil && s.ownsStore {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.Logger.Info("Ingestion service closed", nil)
	})
	return s.closeErr
}

// State reports the consumer lifecycle state.
func (s *Service) State() consumer.State {
	if s.consumer == nil {
		return consumer.StateDisconnected
	}
	return s.consumer.State()
}

// Stats returns the current status document.
func (s *Service) Stats() StatusSnapshot {
	snapshot := s.stats.Snapshot()
	if s.store != nil {
		db := s.store.Stats()
		snapshot.Pool = &PoolStats{
			MaxOpen:      db.MaxOpenConnections,
			Open:         db.OpenConnections,
			InUse:        db.InUse,
			Idle:         db.Idle,
			WaitCount:    db.WaitCount,
			WaitDuration: int64(db.WaitDuration),
		}
	}
	return snapshot
}

// Middlewares lists the registered middleware names, outermost first.
func (s *Service) Middlewares() []string {
	s.middlewaresMu.Lock()
	defer s.middlewaresMu.Unlock()
	return append([]string(nil), s.middlewareNames...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, defaults...)
	if deps.Hooks != nil {
		registrations = append(registrations, JobHooksMiddleware(*deps.Hooks))
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// startHTTPServers serves every registered port and returns a function
// shutting them down.
func (s *Service) startHTTPServers() func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              net.JoinHostPort("", fmt.Sprint(port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(ctx)
		}
	}
}
