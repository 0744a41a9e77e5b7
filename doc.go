// Package gnssflow ingests GNSS telemetry and registration requests from
// RabbitMQ into a relational store.
//
// A Service consumes every configured durable queue over one shared AMQP
// channel. Each delivery is decoded into an Envelope, routed by its type tag
// (GNGGA, NAV-PVT, device_registration, experiment_registration), validated
// and written through a pooled unit of work. Registration requests carrying a
// reply_to destination receive the stored id as a reply correlated by the
// request's correlation_id.
//
// # Delivery outcomes
//
// Successful messages are acknowledged. Payloads failing validation are
// acknowledged and dropped with a warning. Transient failures (broker or
// store unavailable) are retried in-process and then requeued, while
// malformed bodies and unknown type tags are rejected, or moved to the
// poison queue when one is configured.
//
// # Configuration
//
// LoadConfig reads defaults, an optional YAML file and the environment, in
// that order. Connections to RabbitMQ and to the store are retried with
// bounded backoff at startup; exhausting them is reported as an error by
// NewService or Start so the process can exit.
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, structured
// logging, OpenTelemetry tracing, Prometheus metrics, poison queue
// forwarding, retry with exponential backoff and panic recovery. Custom
// middleware can be added via ServiceDependencies.Middlewares, and
// JobHooksMiddleware provides OnJobStart, OnJobDone and OnJobError callbacks.
package gnssflow
