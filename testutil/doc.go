// Package testutil provides shared helpers for tests across the project:
// leak-safe test contexts, JSON construction shortcuts, and, under
// testutil/mocks, builder-style fakes for the LLM provider and the service
// transport.
package testutil
