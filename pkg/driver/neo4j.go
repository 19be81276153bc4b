package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// aboutKey is the node property holding the stable identifier.
const aboutKey = "about"

// externalLabel marks stub nodes standing in for link targets that have no
// node of their own. It is never reported as a node type.
const externalLabel = "ExternalResource"

// Neo4jDriver implements the GraphDriver interface for Neo4j databases.
//
// Type tags are stored as labels, properties as node properties (a single
// value as a string, several as a string list) and relations as
// relationships typed by the relation IRI pointing at the node whose about
// matches the target identifier.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	return &Neo4jDriver{
		client:   driver,
		database: database,
	}, nil
}

// ExecuteQuery runs a read query and converts the first column of each
// record. Relations are not populated on the returned nodes; use GetNode for
// the full entity.
func (n *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]*types.Node, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*neo4j.Record)
	nodes := make([]*types.Node, 0, len(records))
	for _, record := range records {
		if len(record.Values) == 0 {
			continue
		}
		dbNode, ok := record.Values[0].(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, nodeFromDBNode(dbNode, nil))
	}
	return nodes, nil
}

// GetNode retrieves a node and its outgoing relations.
func (n *Neo4jDriver) GetNode(ctx context.Context, about string) (*types.Node, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return readNode(ctx, tx, about)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Node), nil
}

// CreateNode creates a node with a fresh identifier.
func (n *Neo4jDriver) CreateNode(ctx context.Context, spec *types.NodeSpec) (*types.ResultSet, error) {
	if spec == nil {
		return nil, fmt.Errorf("cannot create nil node")
	}

	node := (&types.Node{
		About:      NewIdentifier(),
		Types:      spec.Types,
		Properties: spec.Properties,
		Relations:  spec.Relations,
	}).Clone()

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			CREATE (n%s {about: $about})
			SET n += $properties
		`, labelClause(node.Types))
		if _, err := tx.Run(ctx, query, map[string]any{
			"about":      node.About,
			"properties": propertiesToDB(node.Properties),
		}); err != nil {
			return nil, err
		}
		for _, relation := range sortedKeys(node.Relations) {
			if err := mergeLinks(ctx, tx, node.About, relation, node.Relations[relation]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	return &types.ResultSet{Results: []*types.Node{node}}, nil
}

// UpdateNode applies update inside a single write transaction. Properties
// are recomputed client-side so that merge and replace semantics match the
// in-memory driver exactly.
func (n *Neo4jDriver) UpdateNode(ctx context.Context, about string, update *types.NodeUpdate) (*types.ResultSet, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		node, err := readNode(ctx, tx, about)
		if err != nil {
			return nil, err
		}
		ApplyUpdate(node, update)
		if update == nil {
			return node, nil
		}

		query := fmt.Sprintf(`
			MATCH (n {about: $about})
			SET n += $properties
			%s
		`, setLabelsClause(update.Types))
		if _, err := tx.Run(ctx, query, map[string]any{
			"about":      about,
			"properties": propertiesToDB(node.Properties),
		}); err != nil {
			return nil, err
		}

		for _, relation := range update.ReplaceRelations {
			query := fmt.Sprintf(`
				MATCH (n {about: $about})-[r:%s]->()
				DELETE r
			`, utils.QuoteIdentifier(relation))
			if _, err := tx.Run(ctx, query, map[string]any{"about": about}); err != nil {
				return nil, err
			}
		}
		for _, relation := range sortedKeys(update.Relations) {
			if err := mergeLinks(ctx, tx, about, relation, update.Relations[relation]); err != nil {
				return nil, err
			}
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	return &types.ResultSet{Results: []*types.Node{result.(*types.Node)}}, nil
}

// FindOrCreate relies on MERGE together with the uniqueness constraint
// created by CreateIndices.
func (n *Neo4jDriver) FindOrCreate(ctx context.Context, spec types.SearchSpec) (*types.Node, error) {
	if err := ValidateSearch(spec); err != nil {
		return nil, err
	}

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MERGE (n:%s {%s: $value})
			ON CREATE SET n.about = $about
			WITH n
			OPTIONAL MATCH (n)-[r]->(t)
			RETURN n, collect(CASE WHEN r IS NULL THEN null ELSE [type(r), t.about] END) AS links
		`, utils.QuoteIdentifier(spec.Type), utils.QuoteIdentifier(spec.Property))
		res, err := tx.Run(ctx, query, map[string]any{
			"value": spec.Value,
			"about": NewIdentifier(),
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return nodeFromRecord(record)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Node), nil
}

// Ping verifies connectivity to the server.
func (n *Neo4jDriver) Ping(ctx context.Context) error {
	return n.client.VerifyConnectivity(ctx)
}

// CreateIndices creates the constraints backing get-or-create and the
// identifier lookups.
func (n *Neo4jDriver) CreateIndices(ctx context.Context) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	statements := []string{
		fmt.Sprintf("CREATE CONSTRAINT origin_marker_origin IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			utils.QuoteIdentifier(types.TypeOriginMarker), utils.QuoteIdentifier(types.PropertyOrigin)),
		fmt.Sprintf("CREATE INDEX interval_about IF NOT EXISTS FOR (n:%s) ON (n.about)",
			utils.QuoteIdentifier(types.TypeInterval)),
		fmt.Sprintf("CREATE INDEX origin_marker_about IF NOT EXISTS FOR (n:%s) ON (n.about)",
			utils.QuoteIdentifier(types.TypeOriginMarker)),
		fmt.Sprintf("CREATE INDEX relative_timeline_about IF NOT EXISTS FOR (n:%s) ON (n.about)",
			utils.QuoteIdentifier(types.TypeRelativeTimeLine)),
		fmt.Sprintf("CREATE CONSTRAINT external_resource_about IF NOT EXISTS FOR (n:%s) REQUIRE n.about IS UNIQUE",
			utils.QuoteIdentifier(externalLabel)),
	}

	for _, statement := range statements {
		res, err := session.Run(ctx, statement, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to run %q: %w", statement, err)
		}
	}
	return nil
}

// Close closes the underlying driver.
func (n *Neo4jDriver) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

func readNode(ctx context.Context, tx neo4j.ManagedTransaction, about string) (*types.Node, error) {
	res, err := tx.Run(ctx, `
		MATCH (n {about: $about})
		OPTIONAL MATCH (n)-[r]->(t)
		RETURN n, collect(CASE WHEN r IS NULL THEN null ELSE [type(r), t.about] END) AS links
	`, map[string]any{"about": about})
	if err != nil {
		return nil, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		var usage *neo4j.UsageError
		if errors.As(err, &usage) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, about)
		}
		return nil, err
	}
	return nodeFromRecord(record)
}

func mergeLinks(ctx context.Context, tx neo4j.ManagedTransaction, about, relation string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	rel := utils.QuoteIdentifier(relation)

	res, err := tx.Run(ctx, fmt.Sprintf(`
		MATCH (n {about: $about})
		UNWIND $targets AS target
		MATCH (t {about: target})
		MERGE (n)-[:%s]->(t)
		RETURN collect(DISTINCT t.about) AS linked
	`, rel), map[string]any{
		"about":   about,
		"targets": targets,
	})
	if err != nil {
		return err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return err
	}
	linkedValue, _ := record.Get("linked")
	linked, _ := linkedValue.([]any)
	missing := missingTargets(targets, linked)
	if len(missing) == 0 {
		return nil
	}

	// Targets without a node, such as the creator IRI, get a labelled stub
	// so the link can be stored and read back.
	_, err = tx.Run(ctx, fmt.Sprintf(`
		MATCH (n {about: $about})
		UNWIND $targets AS target
		MERGE (t:%s {about: target})
		MERGE (n)-[:%s]->(t)
	`, utils.QuoteIdentifier(externalLabel), rel), map[string]any{
		"about":   about,
		"targets": missing,
	})
	return err
}

// missingTargets returns the targets absent from linked, in order.
func missingTargets(targets []string, linked []any) []string {
	found := make(map[string]bool, len(linked))
	for _, v := range linked {
		if s, ok := v.(string); ok {
			found[s] = true
		}
	}
	var missing []string
	for _, target := range targets {
		if !found[target] {
			missing = append(missing, target)
			found[target] = true
		}
	}
	return missing
}

func nodeFromRecord(record *neo4j.Record) (*types.Node, error) {
	value, found := record.Get("n")
	if !found {
		return nil, ErrNodeNotFound
	}
	dbNode, ok := value.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected node value %T", value)
	}
	links, _ := record.Get("links")
	linkList, _ := links.([]any)
	return nodeFromDBNode(dbNode, linkList), nil
}

func nodeFromDBNode(dbNode dbtype.Node, links []any) *types.Node {
	node := &types.Node{Properties: make(map[string][]string)}
	for _, label := range dbNode.Labels {
		if label != externalLabel {
			node.Types = append(node.Types, label)
		}
	}

	for key, value := range dbNode.Props {
		if key == aboutKey {
			node.About, _ = value.(string)
			continue
		}
		switch v := value.(type) {
		case string:
			node.Properties[key] = []string{v}
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				values = append(values, fmt.Sprint(item))
			}
			node.Properties[key] = values
		default:
			node.Properties[key] = []string{fmt.Sprint(v)}
		}
	}

	for _, link := range links {
		pair, ok := link.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		relation, _ := pair[0].(string)
		target, _ := pair[1].(string)
		if relation == "" || target == "" {
			continue
		}
		if node.Relations == nil {
			node.Relations = make(map[string][]string)
		}
		node.Relations[relation] = append(node.Relations[relation], target)
	}
	for relation := range node.Relations {
		sort.Strings(node.Relations[relation])
	}

	return node
}

func propertiesToDB(properties map[string][]string) map[string]any {
	props := make(map[string]any, len(properties))
	for key, values := range properties {
		if key == aboutKey {
			continue
		}
		if len(values) == 1 {
			props[key] = values[0]
			continue
		}
		props[key] = values
	}
	return props
}

func labelClause(labels []string) string {
	clause := ""
	for _, label := range labels {
		clause += ":" + utils.QuoteIdentifier(label)
	}
	return clause
}

func setLabelsClause(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return "SET n" + labelClause(labels)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
