package types

import (
	"slices"
)

// Node is an entity stored in the graph. Properties and relations are both
// multi-valued; by convention the first value of a property is authoritative.
type Node struct {
	// About is the stable identifier of the node. An empty About means the
	// store returned no entity.
	About      string              `json:"about"`
	Types      []string            `json:"types"`
	Properties map[string][]string `json:"properties,omitempty"`
	Relations  map[string][]string `json:"relations,omitempty"`
}

// HasType reports whether the node carries the given type tag.
func (n *Node) HasType(t string) bool {
	if n == nil {
		return false
	}
	return slices.Contains(n.Types, t)
}

// HasAllTypes reports whether every type in want is carried by the node.
func (n *Node) HasAllTypes(want []string) bool {
	for _, t := range want {
		if !n.HasType(t) {
			return false
		}
	}
	return true
}

// Property returns the first value stored under key.
func (n *Node) Property(key string) (string, bool) {
	if n == nil || len(n.Properties[key]) == 0 {
		return "", false
	}
	return n.Properties[key][0], true
}

// References returns the identifiers linked under relation.
func (n *Node) References(relation string) []string {
	if n == nil {
		return nil
	}
	return n.Relations[relation]
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		About: n.About,
		Types: slices.Clone(n.Types),
	}
	if n.Properties != nil {
		out.Properties = make(map[string][]string, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = slices.Clone(v)
		}
	}
	if n.Relations != nil {
		out.Relations = make(map[string][]string, len(n.Relations))
		for k, v := range n.Relations {
			out.Relations[k] = slices.Clone(v)
		}
	}
	return out
}

// NodeSpec describes a node to be created.
type NodeSpec struct {
	Types      []string
	Properties map[string][]string
	Relations  map[string][]string
}

// NodeUpdate describes mutations applied to an existing node. Properties and
// relations are merged into the node unless their key appears in the
// matching Replace set, in which case the stored values for that key are
// overwritten. Keys that are not mentioned are left untouched.
type NodeUpdate struct {
	Types             []string
	Properties        map[string][]string
	Relations         map[string][]string
	ReplaceProperties []string
	ReplaceRelations  []string
}

// ReplacesRelation reports whether the relation is overwritten rather than merged.
func (u *NodeUpdate) ReplacesRelation(relation string) bool {
	return u != nil && slices.Contains(u.ReplaceRelations, relation)
}

// ReplacesProperty reports whether the property is overwritten rather than merged.
func (u *NodeUpdate) ReplacesProperty(key string) bool {
	return u != nil && slices.Contains(u.ReplaceProperties, key)
}

// ResultSet is the outcome of a create or update, used as notification payload.
type ResultSet struct {
	Results []*Node `json:"results"`
	// Source identifies the component that produced the change.
	Source string `json:"source,omitempty"`
}

// First returns the first result or nil.
func (r *ResultSet) First() *Node {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return r.Results[0]
}

// SearchSpec identifies a node by type and one discriminating property.
type SearchSpec struct {
	Type     string
	Property string
	Value    string
}

// Key returns a stable string for the specification.
func (s SearchSpec) Key() string {
	return s.Type + "|" + s.Property + "|" + s.Value
}

// MergeValues appends values not already present in dst, preserving order.
func MergeValues(dst, values []string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
