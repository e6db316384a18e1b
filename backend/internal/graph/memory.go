package graph

import (
	"context"
	"sync"
	"time"

	kgerrors "kgraph/backend/pkg/errors"
)

// MemoryGraph is the degraded-mode Store used when no durable backend is
// reachable. It keeps the same merge semantics over in-process adjacency
// lists; contents are lost on restart.
type MemoryGraph struct {
	mu      sync.RWMutex
	users   map[string]*userGraph
	// keyed by user id then text source id
	sources map[string]map[string]TextSource
	tokens  map[string]struct{}
	now     func() time.Time
}

type userGraph struct {
	nodes map[string]*memNode
	edges map[string]*Edge
	// edge keys in creation order
	order []string
	// node id -> keys of incident edges, in creation order
	incident map[string][]string
}

type memNode struct {
	node     Node
	contexts map[ContextType]struct{}
}

var _ Store = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty in-memory graph
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		users:   make(map[string]*userGraph),
		sources: make(map[string]map[string]TextSource),
		tokens:  make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryGraph) user(userID string) *userGraph {
	g, ok := m.users[userID]
	if !ok {
		g = &userGraph{
			nodes:    make(map[string]*memNode),
			edges:    make(map[string]*Edge),
			incident: make(map[string][]string),
		}
		m.users[userID] = g
	}
	return g
}

// claim records a token; false means it was already applied. Caller holds mu.
func (m *MemoryGraph) claim(userID, token string) bool {
	if token == "" {
		return true
	}
	key := userID + "\x00" + token
	if _, ok := m.tokens[key]; ok {
		return false
	}
	m.tokens[key] = struct{}{}
	return true
}

func edgeKey(source, target, rel string) string {
	return PairKey(source, target) + "\x00" + rel
}

// UpsertNode implements Store
func (m *MemoryGraph) UpsertNode(ctx context.Context, userID string, in NodeUpsert) (UpsertResult, error) {
	in, err := PrepareNodeUpsert("memory.UpsertNode", userID, in)
	if err != nil {
		return UpsertResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.user(userID)
	if !m.claim(userID, in.Token) {
		res := UpsertResult{Skipped: true}
		if n, ok := g.nodes[in.ID]; ok {
			res.Weight = n.node.Weight
		}
		return res, nil
	}

	now := m.now()
	n, ok := g.nodes[in.ID]
	if !ok {
		n = &memNode{
			node: Node{
				UserID:    userID,
				ID:        in.ID,
				Type:      in.Type,
				Weight:    1,
				Sentiment: in.Sentiment,
				FirstSeen: now,
				LastSeen:  now,
			},
			contexts: make(map[ContextType]struct{}),
		}
		if in.ContextType != "" {
			n.contexts[in.ContextType] = struct{}{}
		}
		g.nodes[in.ID] = n
		return UpsertResult{Created: true, Weight: 1}, nil
	}

	n.node.Weight++
	n.node.Sentiment = in.Sentiment
	n.node.LastSeen = now
	if in.ContextType != "" {
		n.contexts[in.ContextType] = struct{}{}
	}
	return UpsertResult{Weight: n.node.Weight}, nil
}

// UpsertEdge implements Store
func (m *MemoryGraph) UpsertEdge(ctx context.Context, userID string, in EdgeUpsert) (UpsertResult, error) {
	in, err := PrepareEdgeUpsert("memory.UpsertEdge", userID, in)
	if err != nil {
		return UpsertResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.user(userID)
	if _, ok := g.nodes[in.SourceID]; !ok {
		return UpsertResult{}, kgerrors.ConstraintViolation("memory.UpsertEdge", "unknown source node "+in.SourceID)
	}
	if _, ok := g.nodes[in.TargetID]; !ok {
		return UpsertResult{}, kgerrors.ConstraintViolation("memory.UpsertEdge", "unknown target node "+in.TargetID)
	}

	key := edgeKey(in.SourceID, in.TargetID, in.RelationType)
	if !m.claim(userID, in.Token) {
		res := UpsertResult{Skipped: true}
		if e, ok := g.edges[key]; ok {
			res.Weight = e.Weight
		}
		return res, nil
	}

	now := m.now()
	if e, ok := g.edges[key]; ok {
		e.Weight++
		e.LastUpdated = now
		return UpsertResult{Weight: e.Weight}, nil
	}

	g.edges[key] = &Edge{
		UserID:       userID,
		SourceID:     in.SourceID,
		TargetID:     in.TargetID,
		RelationType: in.RelationType,
		Weight:       1,
		LastUpdated:  now,
	}
	g.order = append(g.order, key)
	g.incident[in.SourceID] = append(g.incident[in.SourceID], key)
	g.incident[in.TargetID] = append(g.incident[in.TargetID], key)
	return UpsertResult{Created: true, Weight: 1}, nil
}

// RecordTextSource implements Store
func (m *MemoryGraph) RecordTextSource(ctx context.Context, src TextSource) error {
	if src.ID == "" || src.UserID == "" {
		return kgerrors.ConstraintViolation("memory.RecordTextSource", "text source id and user id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.sources[src.UserID]
	if !ok {
		byID = make(map[string]TextSource)
		m.sources[src.UserID] = byID
	}
	if _, ok := byID[src.ID]; ok {
		return kgerrors.DuplicateID("memory.RecordTextSource", src.ID)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = m.now()
	}
	byID[src.ID] = src
	return nil
}

// GetTextSource implements Store
func (m *MemoryGraph) GetTextSource(ctx context.Context, userID, id string) (*TextSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.sources[userID][id]
	if !ok {
		return nil, kgerrors.NotFound("memory.GetTextSource", "text source "+id)
	}
	return &src, nil
}

func (n *memNode) snapshot() Node {
	out := n.node
	out.ContextTypes = SortContexts(n.contexts)
	return out
}

func (g *userGraph) ranked(n *memNode) RankedNode {
	return RankedNode{
		Topic:        n.node.ID,
		Type:         n.node.Type,
		Weight:       n.node.Weight,
		Connections:  len(g.incident[n.node.ID]),
		Sentiment:    n.node.Sentiment,
		ContextTypes: SortContexts(n.contexts),
	}
}

// GetNode implements Store
func (m *MemoryGraph) GetNode(ctx context.Context, userID, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.users[userID]
	if !ok {
		return nil, kgerrors.NotFound("memory.GetNode", "node "+id)
	}
	n, ok := g.nodes[Normalize(id)]
	if !ok {
		return nil, kgerrors.NotFound("memory.GetNode", "node "+id)
	}
	node := n.snapshot()
	return &node, nil
}

// RelatedTopics implements Store
func (m *MemoryGraph) RelatedTopics(ctx context.Context, userID, id string, limit int) ([]RelatedTopic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.users[userID]
	if !ok {
		return []RelatedTopic{}, nil
	}
	id = Normalize(id)

	rows := make([]RelatedTopic, 0, len(g.incident[id]))
	for _, key := range g.incident[id] {
		e := g.edges[key]
		other := e.TargetID
		if other == id {
			other = e.SourceID
		}
		n := g.nodes[other]
		rows = append(rows, RelatedTopic{
			Topic:              other,
			Type:               n.node.Type,
			Weight:             n.node.Weight,
			ConnectionStrength: e.Weight,
			RelationType:       e.RelationType,
		})
	}

	SortRelated(rows)
	return Truncate(rows, limit), nil
}

// TopTopics implements Store
func (m *MemoryGraph) TopTopics(ctx context.Context, userID string, limit int) ([]RankedNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rank(userID, limit, func(*memNode) bool { return true }), nil
}

// UserInterests implements Store
func (m *MemoryGraph) UserInterests(ctx context.Context, userID string, limit int) ([]RankedNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rank(userID, limit, func(n *memNode) bool {
		return IsInterest(n.node.Sentiment, SortContexts(n.contexts))
	}), nil
}

// rank sorts the nodes kept by keep. Caller holds mu.
func (m *MemoryGraph) rank(userID string, limit int, keep func(*memNode) bool) []RankedNode {
	g, ok := m.users[userID]
	if !ok {
		return []RankedNode{}
	}

	rows := make([]RankedNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		if keep(n) {
			rows = append(rows, g.ranked(n))
		}
	}
	SortRanked(rows)
	return Truncate(rows, limit)
}

// Edges implements Store
func (m *MemoryGraph) Edges(ctx context.Context, userID string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.users[userID]
	if !ok {
		return []Edge{}, nil
	}
	out := make([]Edge, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, *g.edges[key])
	}
	return out, nil
}

// Summary implements Store
func (m *MemoryGraph) Summary(ctx context.Context, userID string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{
		NodesByType: map[NodeType]int{},
		TopTopics:   m.rank(userID, SummaryTopN, func(*memNode) bool { return true }),
	}
	g, ok := m.users[userID]
	if !ok {
		return s, nil
	}
	s.TotalNodes = len(g.nodes)
	s.TotalEdges = len(g.edges)
	for _, n := range g.nodes {
		s.NodesByType[n.node.Type]++
	}
	return s, nil
}
