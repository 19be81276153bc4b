package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// matchPattern recognises the read queries the maintainer issues:
//
//	MATCH (n:`Type`) [WHERE NOT (n)-[:`rel`]->(:`Target`)] RETURN n [LIMIT k]
var matchPattern = regexp.MustCompile("^MATCH \\(n:`((?:[^`]|``)+)`\\)" +
	"(?: WHERE NOT \\(n\\)-\\[:`((?:[^`]|``)+)`\\]->\\(:`((?:[^`]|``)+)`\\))?" +
	" RETURN n(?: LIMIT (\\d+))?$")

// MemoryStats counts the write operations applied to a MemoryDriver.
type MemoryStats struct {
	Creates int
	Updates int
	Lookups int
}

// MemoryDriver is an in-process GraphDriver. It understands the subset of
// Cypher used for interval discovery and is intended for tests and
// single-process deployments.
type MemoryDriver struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node
	order []string
	stats MemoryStats
}

// NewMemoryDriver creates an empty in-memory store.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		nodes: make(map[string]*types.Node),
	}
}

// NewIdentifier mints a node identifier.
func NewIdentifier() string {
	return "urn:uuid:" + uuid.New().String()
}

// Put stores node as-is, replacing any node with the same identifier. A node
// without an identifier is assigned one. It returns the stored identifier.
func (m *MemoryDriver) Put(node *types.Node) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := node.Clone()
	if stored.About == "" {
		stored.About = NewIdentifier()
	}
	m.store(stored)
	return stored.About
}

// Stats returns a snapshot of the operation counters.
func (m *MemoryDriver) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Nodes returns copies of all nodes carrying the type tag, in insertion order.
func (m *MemoryDriver) Nodes(nodeType string) []*types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Node
	for _, about := range m.order {
		if n := m.nodes[about]; n.HasType(nodeType) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// ExecuteQuery evaluates a discovery query.
func (m *MemoryDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	match := matchPattern.FindStringSubmatch(utils.CompactQuery(query))
	if match == nil {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	nodeType := unquote(match[1])
	relation := unquote(match[2])
	targetType := unquote(match[3])
	limit := -1
	if match[4] != "" {
		limit, _ = strconv.Atoi(match[4])
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*types.Node
	for _, about := range m.order {
		if limit >= 0 && len(results) >= limit {
			break
		}
		n := m.nodes[about]
		if !n.HasType(nodeType) {
			continue
		}
		if relation != "" && m.linksTo(n, relation, targetType) {
			continue
		}
		results = append(results, n.Clone())
	}
	return results, nil
}

// GetNode returns the node identified by about.
func (m *MemoryDriver) GetNode(ctx context.Context, about string) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[about]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, about)
	}
	return n.Clone(), nil
}

// CreateNode stores a new node with a fresh identifier.
func (m *MemoryDriver) CreateNode(ctx context.Context, spec *types.NodeSpec) (*types.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("cannot create node from nil spec")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.create(spec)
	return &types.ResultSet{Results: []*types.Node{n.Clone()}}, nil
}

// UpdateNode merges update into the stored node.
func (m *MemoryDriver) UpdateNode(ctx context.Context, about string, update *types.NodeUpdate) (*types.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[about]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, about)
	}
	ApplyUpdate(n, update)
	m.stats.Updates++
	return &types.ResultSet{Results: []*types.Node{n.Clone()}}, nil
}

// FindOrCreate looks the node up under the write lock, so lookup and
// creation are atomic.
func (m *MemoryDriver) FindOrCreate(ctx context.Context, spec types.SearchSpec) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSearch(spec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Lookups++
	for _, about := range m.order {
		n := m.nodes[about]
		if !n.HasType(spec.Type) {
			continue
		}
		if v, ok := n.Property(spec.Property); ok && v == spec.Value {
			return n.Clone(), nil
		}
	}

	n := m.create(&types.NodeSpec{
		Types:      []string{spec.Type},
		Properties: map[string][]string{spec.Property: {spec.Value}},
	})
	return n.Clone(), nil
}

// Ping always succeeds.
func (m *MemoryDriver) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateIndices is a no-op; FindOrCreate is serialised by the store lock.
func (m *MemoryDriver) CreateIndices(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryDriver) Close(ctx context.Context) error {
	return nil
}

func (m *MemoryDriver) create(spec *types.NodeSpec) *types.Node {
	n := (&types.Node{
		Types:      spec.Types,
		Properties: spec.Properties,
		Relations:  spec.Relations,
	}).Clone()
	n.About = NewIdentifier()
	m.store(n)
	m.stats.Creates++
	return n
}

func (m *MemoryDriver) store(n *types.Node) {
	if _, exists := m.nodes[n.About]; !exists {
		m.order = append(m.order, n.About)
	}
	m.nodes[n.About] = n
}

func (m *MemoryDriver) linksTo(n *types.Node, relation, targetType string) bool {
	for _, target := range n.References(relation) {
		if targetType == "" {
			return true
		}
		if t, ok := m.nodes[target]; ok && t.HasType(targetType) {
			return true
		}
	}
	return false
}

// ApplyUpdate mutates n according to update.
func ApplyUpdate(n *types.Node, update *types.NodeUpdate) {
	if update == nil {
		return
	}
	n.Types = types.MergeValues(n.Types, update.Types)

	if len(update.Properties) > 0 && n.Properties == nil {
		n.Properties = make(map[string][]string)
	}
	for key, values := range update.Properties {
		if update.ReplacesProperty(key) {
			n.Properties[key] = append([]string(nil), values...)
			continue
		}
		n.Properties[key] = types.MergeValues(n.Properties[key], values)
	}

	if len(update.Relations) > 0 && n.Relations == nil {
		n.Relations = make(map[string][]string)
	}
	for relation, targets := range update.Relations {
		if update.ReplacesRelation(relation) {
			n.Relations[relation] = append([]string(nil), targets...)
			continue
		}
		n.Relations[relation] = types.MergeValues(n.Relations[relation], targets)
	}
	// A replaced relation with no new targets is cleared.
	for _, relation := range update.ReplaceRelations {
		if _, ok := update.Relations[relation]; !ok {
			delete(n.Relations, relation)
		}
	}
}

func unquote(s string) string {
	return strings.ReplaceAll(s, "``", "`")
}
