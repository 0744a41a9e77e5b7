package processors

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/validation"
)

const (
	TypeGNGGA                  = validation.TypeGNGGA
	TypeNavPVT                 = validation.TypeNavPVT
	TypeDeviceRegistration     = "device_registration"
	TypeExperimentRegistration = "experiment_registration"
)

var errNestedPayload = errors.New(`"payload" must be a JSON object`)

// Store is the part of the store manager processors depend on.
type Store interface {
	WithUnitOfWork(ctx context.Context, autocommit bool, fn store.WorkFunc) error
}

// Result is what a processor hands back to the reply path.
type Result struct {
	ID int64
}

// Processor handles one normalized payload.
type Processor interface {
	Type() string
	Process(ctx context.Context) (*Result, error)
}

type deps struct {
	store  Store
	logger loggingpkg.ServiceLogger
	now    func() time.Time
}

type factory func(payload map[string]any, d deps) Processor

type route struct {
	canonical string
	build     factory
}

// routes is the closed set of type tags. Lookups are case-insensitive.
var routes = map[string]route{
	"gngga":                   {TypeGNGGA, newTelemetry(validation.GNGGA)},
	"nav-pvt":                 {TypeNavPVT, newTelemetry(validation.NavPVT)},
	"nav_pvt":                 {TypeNavPVT, newTelemetry(validation.NavPVT)},
	"device_registration":     {TypeDeviceRegistration, newDeviceRegistration},
	"experiment_registration": {TypeExperimentRegistration, newExperimentRegistration},
}

// Dispatcher maps envelopes onto processors.
type Dispatcher struct {
	deps deps
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the clock used for registration defaults.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.deps.now = now
		}
	}
}

// NewDispatcher builds a dispatcher whose processors write through st.
func NewDispatcher(st Store, logger loggingpkg.ServiceLogger, opts ...DispatcherOption) (*Dispatcher, error) {
	if st == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	d := &Dispatcher{deps: deps{store: st, logger: logger, now: time.Now}}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch returns the processor registered for env.Type or an
// *errors.UnsupportedTypeError. There is no fallback route.
func (d *Dispatcher) Dispatch(env Envelope) (Processor, error) {
	r, ok := routes[strings.ToLower(strings.TrimSpace(env.Type))]
	if !ok {
		return nil, &errspkg.UnsupportedTypeError{Type: env.Type}
	}
	return r.build(env.Payload, d.deps), nil
}

// Canonical returns the canonical spelling of a type tag, or "" when the tag
// is not routed.
func Canonical(tag string) string {
	return routes[strings.ToLower(strings.TrimSpace(tag))].canonical
}

// Types lists the accepted type tags.
func Types() []string {
	out := make([]string, 0, len(routes))
	for tag := range routes {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
