package processors

import (
	"context"

	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
	"github.com/drblury/gnssflow/internal/runtime/validation"
)

var aliasKey = []string{"alias"}

type deviceRegistration struct {
	payload map[string]any
	deps
}

func newDeviceRegistration(payload map[string]any, d deps) Processor {
	return &deviceRegistration{payload: payload, deps: d}
}

func (p *deviceRegistration) Type() string { return TypeDeviceRegistration }

// Process upserts the hardware row by alias and, when the payload names an
// experiment, links the device to it. The link is written after the device
// is committed; a failed link is logged and the device id is still returned.
func (p *deviceRegistration) Process(ctx context.Context) (*Result, error) {
	rec, err := validation.Device.Validate(p.payload, p.logger)
	if err != nil {
		return nil, err
	}

	var id int64
	err = p.store.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *store.UnitOfWork) error {
		var err error
		id, err = uow.Upsert(ctx, store.TableHardware, aliasKey, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("Device registered", loggingpkg.LogFields{"alias": rec["alias"], "device_id": id})

	if experimentID, ok := p.experimentRef(); ok {
		p.link(ctx, experimentID, id)
	}
	return &Result{ID: id}, nil
}

func (p *deviceRegistration) link(ctx context.Context, experimentID, deviceID int64) {
	fields := loggingpkg.LogFields{"device_id": deviceID, "experiment_id": experimentID}
	var linked bool
	err := p.store.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *store.UnitOfWork) error {
		var err error
		linked, err = uow.InsertIgnore(ctx, store.TableExperimentDevices,
			[]string{"experiment_id", "device_id"},
			store.Record{"experiment_id": experimentID, "device_id": deviceID})
		return err
	})
	switch {
	case err != nil:
		p.logger.Error("Linking device to experiment failed", err, fields)
	case !linked:
		p.logger.Debug("Device already linked to experiment", fields)
	}
}

// experimentRef reads the experiment id from the top level or from
// attributes.experiment_id.
func (p *deviceRegistration) experimentRef() (int64, bool) {
	raw, ok := p.payload["experiment_id"]
	if !ok || raw == nil {
		attrs, isMap := p.payload["attributes"].(map[string]any)
		if !isMap {
			return 0, false
		}
		if raw, ok = attrs["experiment_id"]; !ok || raw == nil {
			return 0, false
		}
	}
	id, ok := validation.Int(raw)
	if !ok || id < 1 {
		p.logger.Warn("Ignoring invalid experiment reference", loggingpkg.LogFields{"experiment_id": raw})
		return 0, false
	}
	return id, true
}

type experimentRegistration struct {
	payload map[string]any
	deps
}

func newExperimentRegistration(payload map[string]any, d deps) Processor {
	return &experimentRegistration{payload: payload, deps: d}
}

func (p *experimentRegistration) Type() string { return TypeExperimentRegistration }

// Process creates the experiment unless its alias already exists and returns
// the stored id either way.
func (p *experimentRegistration) Process(ctx context.Context) (*Result, error) {
	rec, err := validation.Experiment.Validate(p.withoutRoutingTag(), p.logger)
	if err != nil {
		return nil, err
	}
	if rec["type"] == nil {
		rec["type"] = "unknown"
	}
	if rec["start_time"] == nil {
		rec["start_time"] = p.now().UTC()
	}

	var id int64
	err = p.store.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *store.UnitOfWork) error {
		var err error
		id, err = uow.InsertIfAbsent(ctx, store.TableExperiments, aliasKey, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Experiment registered", loggingpkg.LogFields{"alias": rec["alias"], "experiment_id": id})
	return &Result{ID: id}, nil
}

// withoutRoutingTag drops a "type" key that only carries the message tag so
// it is not mistaken for the experiment type.
func (p *experimentRegistration) withoutRoutingTag() map[string]any {
	tag, ok := p.payload["type"].(string)
	if !ok || Canonical(tag) == "" {
		return p.payload
	}
	out := make(map[string]any, len(p.payload))
	for k, v := range p.payload {
		if k != "type" {
			out[k] = v
		}
	}
	return out
}
