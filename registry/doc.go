// Package registry implements the service registry: a directory of remote
// services with health tracking, failure-classified invocation, per-service
// circuit breaking and best-effort broadcast.
//
// The transport is injected via the Invoker interface; the registry owns
// failure classification, status bookkeeping, audit records and published
// health/breaker events. Descriptors are never deleted, only marked offline.
package registry
