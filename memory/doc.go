// Package memory implements the per-agent memory subsystem: a bounded,
// evictable short-term tier, an importance-promoted long-term tier,
// similarity/recency/importance-ranked retrieval, weak association
// references and periodic consolidation of similar items.
package memory
