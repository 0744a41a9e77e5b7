package processors

import (
	"context"

	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/validation"
)

type telemetryProcessor struct {
	schema  validation.Schema
	payload map[string]any
	deps
}

func newTelemetry(schema validation.Schema) factory {
	return func(payload map[string]any, d deps) Processor {
		return &telemetryProcessor{schema: schema, payload: payload, deps: d}
	}
}

func (p *telemetryProcessor) Type() string { return p.schema.Type }

// Process validates the payload and inserts one row. Rejected payloads never
// open a unit of work.
func (p *telemetryProcessor) Process(ctx context.Context) (*Result, error) {
	rec, err := p.schema.Validate(p.payload, p.logger)
	if err != nil {
		return nil, err
	}
	err = p.store.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *store.UnitOfWork) error {
		return uow.Insert(ctx, p.schema.Table, rec)
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}
