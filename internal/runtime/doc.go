/*
Package runtime wires the gnssflow ingestion pipeline together.

# Architecture Overview

Deliveries are pulled from one AMQP channel shared by every configured queue,
converted into Watermill messages and passed through a middleware chain to the
processor handler. The consumer settles each delivery (ack, nack with or
without requeue) before the next one is handled, then publishes the reply of
registration requests.

# Package Structure

## Core Service (service.go)

The Service struct owns:
  - The Store Manager pool (unless one is injected)
  - The processor dispatcher and the handler built on it
  - The reply and poison publisher, wrapped with bounded retries
  - The middleware chain
  - The queue consumer
  - HTTP servers for metrics and status

## Middleware (middleware.go, hooks.go)

Middlewares wrap the processor handler, the first registered being the
outermost:
  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry span per message
  - Metrics: Watermill Prometheus handler metrics
  - PoisonQueue: Moves permanently failing messages aside
  - Retry: In-process retries of transient failures
  - Recoverer: Panic recovery
  - JobHooks: Optional start/done/error callbacks

## Stats & Monitoring (models.go, metrics.go, resources.go, status.go)

Consumer events feed per-queue counters, latency percentiles, throughput,
reply outcomes and Prometheus collectors. /api/status serves the snapshot and
/healthz reports consumer and store health.

# Sub-packages

  - config/: Settings with defaults, YAML file, environment overrides and validation
  - consumer/: Queue consumer state machine and settlement policy
  - errors/: Error taxonomy and classification
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - processors/: Envelope decoding, dispatcher and processors
  - store/: Connection pool, unit of work and SQL builders
  - transport/: Broker Connection Manager and publishers
  - validation/: Telemetry schemas and normalization

# Usage Example

	conf, err := gnssflow.LoadConfig("gnssflow.yaml")
	if err != nil {
		return err
	}

	svc, err := gnssflow.NewService(conf, logger, ctx, gnssflow.ServiceDependencies{})
	if err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
