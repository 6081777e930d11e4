package types

import "time"

// MemoryKind classifies what a memory item records.
type MemoryKind string

const (
	MemoryExperience  MemoryKind = "experience"
	MemoryFact        MemoryKind = "fact"
	MemoryThought     MemoryKind = "thought"
	MemoryGoal        MemoryKind = "goal"
	MemoryObservation MemoryKind = "observation"
)

// MemoryItem is one unit of agent recall. Items are owned exclusively by
// their agent. Associations are weak id references resolved at read time,
// never embedded pointers.
type MemoryItem struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	Kind           MemoryKind     `json:"kind"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Embedding      []float64      `json:"embedding,omitempty"`
	Importance     float64        `json:"importance"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	DecayFactor    float64        `json:"decay_factor"`
	AssociatedIDs  []string       `json:"associated_ids,omitempty"`
}

// RetentionScore is the eviction ordering key for the short-term tier:
// the lowest-scoring items are evicted first.
func (m *MemoryItem) RetentionScore() float64 {
	return m.Importance * m.DecayFactor * float64(m.AccessCount+1)
}
