package driver

import (
	"context"
	"errors"

	"github.com/soundprediction/go-timeline/pkg/types"
)

var (
	// ErrNodeNotFound is returned when no node carries the requested identifier.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidSearch is returned when a search specification is incomplete.
	ErrInvalidSearch = errors.New("invalid search specification")
)

// GraphDriver defines the interface for graph store operations used by the
// timeline maintainer. Implementations must be safe for concurrent use.
type GraphDriver interface {
	// ExecuteQuery runs a read query and returns the nodes bound to the
	// first returned column, in result order.
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]*types.Node, error)

	// GetNode returns the full node identified by about, or ErrNodeNotFound.
	GetNode(ctx context.Context, about string) (*types.Node, error)

	// CreateNode creates a node and returns it as a result set.
	CreateNode(ctx context.Context, spec *types.NodeSpec) (*types.ResultSet, error)

	// UpdateNode applies the update to an existing node and returns the
	// updated node as a result set.
	UpdateNode(ctx context.Context, about string, update *types.NodeUpdate) (*types.ResultSet, error)

	// FindOrCreate returns the unique node matching spec, creating it only
	// when no match exists. Concurrent callers with the same spec observe the
	// same node.
	FindOrCreate(ctx context.Context, spec types.SearchSpec) (*types.Node, error)

	// Ping checks that the store accepts queries.
	Ping(ctx context.Context) error

	// CreateIndices creates indices and constraints backing FindOrCreate.
	CreateIndices(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// ValidateSearch checks that spec identifies a node.
func ValidateSearch(spec types.SearchSpec) error {
	if spec.Type == "" || spec.Property == "" || spec.Value == "" {
		return ErrInvalidSearch
	}
	return nil
}
