// Package workflow executes named multi-step business processes over the
// service registry and registered agents. Each workflow kind is a fixed
// ordered step table; steps run strictly in sequence within one instance,
// while instances run concurrently with each other. Critical step failures
// abort the instance, non-critical ones are recorded and skipped, and the
// emergency-response kind runs compensating actions before its steps when
// the severity is critical.
package workflow
