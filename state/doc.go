// Package state implements the shared state store: versioned key/value
// context entries, publish/subscribe change notification, and append-only
// audit streams.
//
// Two backends implement the same Store contract: RedisStore for distributed
// deployments (hashes + pub/sub + streams) and MemoryStore for tests and
// single-binary use. Versions are strictly increasing per key and a write
// commits value and version as one visible update.
package state
