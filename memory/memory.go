package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/internal/metrics"
	"github.com/quantfleet/quantfleet/llm"
	"github.com/quantfleet/quantfleet/types"
)

// Relevance weights for RetrieveRelevant scoring.
const (
	similarityWeight = 0.5
	recencyWeight    = 0.2
	importanceWeight = 0.3
)

// Config configures one agent's memory subsystem.
type Config struct {
	// ShortTermCapacity bounds the short-term tier per agent.
	ShortTermCapacity int `yaml:"short_term_capacity" json:"short_term_capacity"`
	// PromotionThreshold is the importance at which an item is additionally
	// referenced from the long-term tier.
	PromotionThreshold float64 `yaml:"promotion_threshold" json:"promotion_threshold"`
	// ConsolidationSimilarity is the pairwise cosine similarity above which
	// items cluster during Consolidate.
	ConsolidationSimilarity float64 `yaml:"consolidation_similarity" json:"consolidation_similarity"`
	// ConsolidationMinCluster is the cluster size above which a cluster is
	// summarized into one synthesized item.
	ConsolidationMinCluster int `yaml:"consolidation_min_cluster" json:"consolidation_min_cluster"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ShortTermCapacity:       50,
		PromotionThreshold:      0.7,
		ConsolidationSimilarity: 0.8,
		ConsolidationMinCluster: 3,
	}
}

// Subsystem is one agent's two-tier memory: a bounded, evictable short-term
// tier and an importance-promoted long-term tier. Items are promoted up,
// never back down; retrieval weight decays via DecayFactor instead.
//
// The mutex guards in-memory bookkeeping only. Embedding and summarization
// calls to the LLM collaborator always happen outside the lock.
type Subsystem struct {
	agentID  string
	config   Config
	provider llm.Provider
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu        sync.Mutex
	shortTerm map[string]*types.MemoryItem
	longTerm  map[string]*types.MemoryItem
}

// New creates a memory subsystem for agentID. provider may be nil, in which
// case items are stored without embeddings and retrieval degrades to
// recency/importance ranking.
func New(agentID string, config Config, provider llm.Provider, collector *metrics.Collector, logger *zap.Logger) *Subsystem {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ShortTermCapacity <= 0 {
		config.ShortTermCapacity = 50
	}
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = 0.7
	}
	if config.ConsolidationSimilarity <= 0 {
		config.ConsolidationSimilarity = 0.8
	}
	if config.ConsolidationMinCluster <= 0 {
		config.ConsolidationMinCluster = 3
	}
	return &Subsystem{
		agentID:   agentID,
		config:    config,
		provider:  provider,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "memory"), zap.String("agent_id", agentID)),
		shortTerm: make(map[string]*types.MemoryItem),
		longTerm:  make(map[string]*types.MemoryItem),
	}
}

// Store writes item into the short-term tier, promoting a reference into the
// long-term tier when importance reaches the promotion threshold. An
// embedding failure is reported in the log but the item is still stored.
// The returned item is a detached copy of what was stored.
func (s *Subsystem) Store(ctx context.Context, item *types.MemoryItem) (*types.MemoryItem, error) {
	if item == nil {
		return nil, types.NewError(types.ErrValidation, "nil memory item")
	}
	if item.Content == "" {
		return nil, types.NewError(types.ErrValidation, "memory item requires content")
	}

	cp := *item
	cp.AgentID = s.agentID
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.LastAccessedAt.IsZero() {
		cp.LastAccessedAt = now
	}
	if cp.DecayFactor == 0 {
		cp.DecayFactor = 1.0
	}
	cp.Importance = clamp01(cp.Importance)

	if len(cp.Embedding) == 0 && s.provider != nil {
		vec, err := s.provider.Embed(ctx, cp.Content)
		if err != nil {
			s.logger.Warn("embedding failed, storing without vector",
				zap.String("memory_id", cp.ID), zap.Error(err))
		} else {
			cp.Embedding = vec
		}
	}

	// The tiers keep their own copy; the caller's copy is detached so later
	// mutation of the returned item cannot race the locked bookkeeping.
	stored := cp
	s.mu.Lock()
	s.shortTerm[stored.ID] = &stored
	if stored.Importance >= s.config.PromotionThreshold {
		s.longTerm[stored.ID] = &stored
	}
	evicted := s.evictLocked()
	s.mu.Unlock()

	if evicted > 0 {
		if s.metrics != nil {
			s.metrics.RecordMemoryEviction(s.agentID, evicted)
		}
		s.logger.Debug("short-term tier eviction", zap.Int("evicted", evicted))
	}
	return &cp, nil
}

// evictLocked trims the short-term tier back to capacity, removing the
// lowest retention scores first. Long-term references survive eviction.
func (s *Subsystem) evictLocked() int {
	over := len(s.shortTerm) - s.config.ShortTermCapacity
	if over <= 0 {
		return 0
	}
	items := make([]*types.MemoryItem, 0, len(s.shortTerm))
	for _, it := range s.shortTerm {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].RetentionScore() < items[j].RetentionScore()
	})
	for i := 0; i < over; i++ {
		delete(s.shortTerm, items[i].ID)
	}
	return over
}

// RetrieveRelevant returns the top limit items ranked by
// 0.5*similarity + 0.2*recency + 0.3*importance*decay, bumping access
// bookkeeping on every returned item.
func (s *Subsystem) RetrieveRelevant(ctx context.Context, query string, limit int) ([]*types.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var queryVec []float64
	if s.provider != nil && query != "" {
		vec, err := s.provider.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, ranking without similarity", zap.Error(err))
		} else {
			queryVec = vec
		}
	}

	now := time.Now()
	type scored struct {
		item  *types.MemoryItem
		score float64
	}

	s.mu.Lock()
	candidates := make([]scored, 0, len(s.shortTerm)+len(s.longTerm))
	seen := make(map[string]bool, len(s.shortTerm))
	for _, it := range s.shortTerm {
		candidates = append(candidates, scored{it, s.relevance(it, queryVec, now)})
		seen[it.ID] = true
	}
	for _, it := range s.longTerm {
		if !seen[it.ID] {
			candidates = append(candidates, scored{it, s.relevance(it, queryVec, now)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]*types.MemoryItem, 0, limit)
	for _, c := range candidates[:limit] {
		c.item.AccessCount++
		c.item.LastAccessedAt = now
		cp := *c.item
		out = append(out, &cp)
	}
	s.mu.Unlock()

	return out, nil
}

// relevance computes the ranking score for one item.
func (s *Subsystem) relevance(it *types.MemoryItem, queryVec []float64, now time.Time) float64 {
	similarity := cosineSimilarity(queryVec, it.Embedding)
	recency := math.Exp(-now.Sub(it.LastAccessedAt).Hours() / 24)
	return similarityWeight*similarity + recencyWeight*recency + importanceWeight*it.Importance*it.DecayFactor
}

// RetrieveByAssociation resolves the weak id references of itemID into
// items. Unresolvable ids are skipped, which keeps association cycles
// harmless.
func (s *Subsystem) RetrieveByAssociation(itemID string) ([]*types.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.lookupLocked(itemID)
	if root == nil {
		return nil, types.Errorf(types.ErrKeyNotFound, "memory item %q not found", itemID)
	}
	out := make([]*types.MemoryItem, 0, len(root.AssociatedIDs))
	for _, id := range root.AssociatedIDs {
		if it := s.lookupLocked(id); it != nil {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Subsystem) lookupLocked(id string) *types.MemoryItem {
	if it, ok := s.shortTerm[id]; ok {
		return it
	}
	if it, ok := s.longTerm[id]; ok {
		return it
	}
	return nil
}

// Get returns a copy of one item by id.
func (s *Subsystem) Get(itemID string) (*types.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.lookupLocked(itemID)
	if it == nil {
		return nil, types.Errorf(types.ErrKeyNotFound, "memory item %q not found", itemID)
	}
	cp := *it
	return &cp, nil
}

// Len returns the short-term and long-term tier sizes.
func (s *Subsystem) Len() (shortTerm, longTerm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shortTerm), len(s.longTerm)
}

// Consolidate clusters embedded items by pairwise similarity and summarizes
// large clusters into one synthesized item each via the LLM collaborator.
// Originals are soft-deprecated by halving their decay factor so provenance
// survives; a summarization failure leaves the cluster untouched.
func (s *Subsystem) Consolidate(ctx context.Context) (int, error) {
	s.mu.Lock()
	embedded := make([]*types.MemoryItem, 0, len(s.shortTerm)+len(s.longTerm))
	seen := make(map[string]bool)
	for _, it := range s.shortTerm {
		if len(it.Embedding) > 0 {
			embedded = append(embedded, it)
			seen[it.ID] = true
		}
	}
	for _, it := range s.longTerm {
		if !seen[it.ID] && len(it.Embedding) > 0 {
			embedded = append(embedded, it)
		}
	}
	// snapshot copies so clustering happens without the lock
	snapshot := make([]types.MemoryItem, len(embedded))
	for i, it := range embedded {
		snapshot[i] = *it
	}
	s.mu.Unlock()

	clusters := clusterBySimilarity(snapshot, s.config.ConsolidationSimilarity)

	synthesized := 0
	for _, cluster := range clusters {
		if len(cluster) <= s.config.ConsolidationMinCluster {
			continue
		}
		summary, err := s.summarize(ctx, cluster)
		if err != nil {
			s.logger.Warn("cluster summarization failed, keeping originals",
				zap.Int("cluster_size", len(cluster)), zap.Error(err))
			continue
		}

		maxImportance := 0.0
		ids := make([]string, 0, len(cluster))
		for _, it := range cluster {
			if it.Importance > maxImportance {
				maxImportance = it.Importance
			}
			ids = append(ids, it.ID)
		}

		if _, err := s.Store(ctx, &types.MemoryItem{
			Kind:          types.MemoryFact,
			Content:       summary,
			Importance:    maxImportance,
			AssociatedIDs: ids,
			Metadata:      map[string]any{"consolidated_from": len(cluster)},
		}); err != nil {
			s.logger.Warn("storing synthesized memory failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		for _, id := range ids {
			if it := s.lookupLocked(id); it != nil {
				it.DecayFactor /= 2
			}
		}
		s.mu.Unlock()
		synthesized++
	}
	return synthesized, nil
}

// summarize asks the collaborator to compress a cluster into one statement.
func (s *Subsystem) summarize(ctx context.Context, cluster []types.MemoryItem) (string, error) {
	if s.provider == nil {
		return "", types.NewError(types.ErrEmbeddingFailed, "no llm provider configured")
	}
	var b strings.Builder
	for i, it := range cluster {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it.Content)
	}
	resp, err := s.provider.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: "You consolidate an agent's related memories. Reply with one concise statement capturing what these memories have in common.",
		UserPrompt:   b.String(),
		Temperature:  0.2,
		MaxTokens:    200,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// clusterBySimilarity greedily groups items whose similarity to a cluster
// seed exceeds threshold.
func clusterBySimilarity(items []types.MemoryItem, threshold float64) [][]types.MemoryItem {
	var clusters [][]types.MemoryItem
	assigned := make([]bool, len(items))
	for i := range items {
		if assigned[i] {
			continue
		}
		cluster := []types.MemoryItem{items[i]}
		assigned[i] = true
		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			if cosineSimilarity(items[i].Embedding, items[j].Embedding) > threshold {
				cluster = append(cluster, items[j])
				assigned[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
