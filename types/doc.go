// Package types defines the shared data model and unified error taxonomy for
// the quantfleet coordination core: versioned context entries, service
// descriptors, memory items, tasks, actions and workflow records.
//
// All cross-component values live here so the leaf packages (state, registry,
// memory) and the composing packages (agent, workflow) never import each
// other for plain data.
package types
