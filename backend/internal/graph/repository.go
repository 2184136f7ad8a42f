package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
	"graphmirror/backend/pkg/logger"
)

// BackendNeo4j is the Backend name of the Neo4j repository
const BackendNeo4j = "neo4j"

// Labels and relationship types a signal may name. Cypher cannot take them as
// parameters, so anything else is rejected before it reaches a query.
var (
	allowedLabels = map[string]bool{
		constants.NodeUser:    true,
		constants.NodeChannel: true,
		constants.NodeMessage: true,
	}
	allowedRelationships = map[string]bool{
		constants.EdgeMemberOf:    true,
		constants.EdgeSentMessage: true,
		constants.EdgeMentions:    true,
		constants.EdgeMessageIn:   true,
	}
)

// Repository handles all Neo4j database operations. Every graph lives in the
// same database; nodes carry the graph id in a graph_id property and element
// ids serve as remote ids.
type Repository struct {
	driver     neo4j.DriverWithContext
	logger     *zap.Logger
	browserURL string
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, browserURL string) *Repository {
	return &Repository{
		driver:     driver,
		logger:     logger.Get(),
		browserURL: strings.TrimRight(browserURL, "/"),
	}
}

// NewDriver connects to Neo4j and verifies connectivity
func NewDriver(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	return driver, nil
}

// schemaStatements index the lookups every signal performs. Names are only
// unique within a graph, so there is no uniqueness constraint on them.
var schemaStatements = []string{
	"CREATE CONSTRAINT graph_id_unique IF NOT EXISTS FOR (g:Graph) REQUIRE g.id IS UNIQUE",
	"CREATE INDEX user_graph_name IF NOT EXISTS FOR (u:User) ON (u.graph_id, u.name)",
	"CREATE INDEX channel_graph_name IF NOT EXISTS FOR (c:Channel) ON (c.graph_id, c.name)",
	"CREATE INDEX message_graph_name IF NOT EXISTS FOR (m:Message) ON (m.graph_id, m.name)",
	"CREATE INDEX user_user_id IF NOT EXISTS FOR (u:User) ON (u.user_id)",
	"CREATE INDEX channel_channel_id IF NOT EXISTS FOR (c:Channel) ON (c.channel_id)",
}

// EnsureSchema creates the constraints and indexes the repository relies on.
// Statements that fail are logged and skipped; the first failure is returned.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	var firstErr error
	for _, stmt := range schemaStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			r.logger.Warn("Failed to apply schema statement", zap.String("statement", stmt), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Repository) Backend() string {
	return BackendNeo4j
}

// CreateGraph creates the graph root node and records the declared types on it
func (r *Repository) CreateGraph(ctx context.Context) (string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	var nodeTypes, edgeTypes []string
	for _, ts := range signal.GraphSchema() {
		switch ts.Action {
		case signal.ActionNodeTypeCreate:
			nodeTypes = append(nodeTypes, ts.Name)
		case signal.ActionEdgeTypeCreate:
			edgeTypes = append(edgeTypes, ts.Name)
		}
	}

	graphID := uuid.New().String()
	query := `
		CREATE (g:Graph {
			id: $id,
			name: $name,
			description: $description,
			node_types: $nodeTypes,
			edge_types: $edgeTypes,
			created_at: datetime()
		})
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          graphID,
		"name":        constants.DefaultGraphName,
		"description": constants.DefaultGraphDescription,
		"nodeTypes":   nodeTypes,
		"edgeTypes":   edgeTypes,
	})
	if err != nil {
		return "", requestFailed("create graph", fmt.Errorf("failed to execute query: %w", err))
	}

	r.logger.Info("Remote graph created", zap.String("graph_id", graphID), zap.String("backend", BackendNeo4j))
	return graphID, nil
}

// DownloadGraph reads every node and relationship stamped with graphID
func (r *Repository) DownloadGraph(ctx context.Context, graphID string) (*GraphData, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (g:Graph {id: $id}) RETURN g.name AS name`, map[string]interface{}{"id": graphID})
	if err != nil {
		return nil, requestFailed("download graph", fmt.Errorf("failed to execute query: %w", err))
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, requestFailed("download graph", fmt.Errorf("failed to fetch record: %w", err))
		}
		return nil, ErrGraphNotFound{GraphID: graphID}
	}
	data := &GraphData{ID: graphID, Name: getStringFromRecord(result.Record(), "name")}

	nodeQuery := `
		MATCH (n {graph_id: $id})
		RETURN elementId(n) AS id, labels(n)[0] AS type, n.name AS name, properties(n) AS props
		ORDER BY n.created_at
	`
	result, err = session.Run(ctx, nodeQuery, map[string]interface{}{"id": graphID})
	if err != nil {
		return nil, requestFailed("download graph", fmt.Errorf("failed to execute query: %w", err))
	}
	for result.Next(ctx) {
		record := result.Record()
		data.Nodes = append(data.Nodes, Node{
			ID:         getStringFromRecord(record, "id"),
			Type:       getStringFromRecord(record, "type"),
			Name:       getStringFromRecord(record, "name"),
			Properties: publicProperties(getMapFromRecord(record, "props")),
		})
	}
	if err := result.Err(); err != nil {
		return nil, requestFailed("download graph", err)
	}

	edgeQuery := `
		MATCH (a {graph_id: $id})-[rel]->(b {graph_id: $id})
		RETURN elementId(rel) AS id, type(rel) AS name, elementId(a) AS from, elementId(b) AS to, properties(rel) AS props
	`
	result, err = session.Run(ctx, edgeQuery, map[string]interface{}{"id": graphID})
	if err != nil {
		return nil, requestFailed("download graph", fmt.Errorf("failed to execute query: %w", err))
	}
	for result.Next(ctx) {
		record := result.Record()
		data.Edges = append(data.Edges, Edge{
			ID:         getStringFromRecord(record, "id"),
			Name:       getStringFromRecord(record, "name"),
			From:       getStringFromRecord(record, "from"),
			To:         getStringFromRecord(record, "to"),
			Properties: getMapFromRecord(record, "props"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, requestFailed("download graph", err)
	}

	return data, nil
}

// SendSignals applies a batch in one write transaction. The returned signals
// are the node and edge creations with their element ids filled in.
func (r *Repository) SendSignals(ctx context.Context, graphID string, signals []signal.Signal) (*SignalsResponse, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}
	for _, s := range signals {
		if err := validateSignal(s); err != nil {
			return nil, err
		}
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	applied, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		out := make([]signal.Signal, 0, len(signals))
		for _, s := range signals {
			ack, ok, err := r.apply(ctx, tx, graphID, s)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, ack)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, requestFailed("add signals", err)
	}

	return &SignalsResponse{Signals: applied.([]signal.Signal)}, nil
}

// apply runs one signal. ok is false when the signal matched nothing.
func (r *Repository) apply(ctx context.Context, tx neo4j.ManagedTransaction, graphID string, s signal.Signal) (signal.Signal, bool, error) {
	params := map[string]interface{}{
		"graphID": graphID,
		"props":   nonNilProperties(s.Properties),
	}

	var query string
	switch s.Action {
	case signal.ActionNodeCreate:
		params["name"] = s.Name
		params["image"] = s.Image
		params["description"] = s.Description
		query = fmt.Sprintf(`
			MERGE (n:%s {graph_id: $graphID, name: $name})
			ON CREATE SET n.created_at = datetime()
			SET n += $props, n.image = $image, n.description = $description
			RETURN elementId(n) AS id
		`, quoteIdentifier(s.Type))

	case signal.ActionNodeUpdate:
		if s.ID != "" {
			params["id"] = s.ID
			query = `
				MATCH (n {graph_id: $graphID}) WHERE elementId(n) = $id
				SET n += $props
				RETURN elementId(n) AS id
			`
		} else {
			params["name"] = s.Name
			query = fmt.Sprintf(`
				MATCH (n:%s {graph_id: $graphID, name: $name})
				SET n += $props
				RETURN elementId(n) AS id
			`, quoteIdentifier(s.Type))
		}

	case signal.ActionEdgeCreate:
		params["fromName"] = s.FromName
		params["toName"] = s.ToName
		query = fmt.Sprintf(`
			MATCH (a:%s {graph_id: $graphID, name: $fromName})
			MATCH (b:%s {graph_id: $graphID, name: $toName})
			MERGE (a)-[rel:%s]->(b)
			SET rel += $props
			RETURN elementId(rel) AS id, elementId(a) AS from, elementId(b) AS to
		`, quoteIdentifier(s.FromType), quoteIdentifier(s.ToType), quoteIdentifier(s.Name))

	case signal.ActionEdgeUpdate:
		params["id"] = s.ID
		query = `
			MATCH (a {graph_id: $graphID})-[rel]->() WHERE elementId(rel) = $id
			SET rel += $props
			RETURN elementId(rel) AS id
		`

	case signal.ActionEdgeDelete:
		params["id"] = s.ID
		query = `
			MATCH (a {graph_id: $graphID})-[rel]->() WHERE elementId(rel) = $id
			DELETE rel
			RETURN $id AS id
		`
	}

	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return signal.Signal{}, false, fmt.Errorf("failed to apply %s: %w", s.Action, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return signal.Signal{}, false, err
		}
		r.logger.Warn("Signal matched nothing",
			zap.String("action", string(s.Action)),
			zap.String("name", s.Name),
			zap.String("id", s.ID))
		return signal.Signal{}, false, nil
	}

	record := result.Record()
	ack := s
	ack.ID = getStringFromRecord(record, "id")
	if s.Action == signal.ActionEdgeCreate {
		ack.From = getStringFromRecord(record, "from")
		ack.To = getStringFromRecord(record, "to")
	}
	return ack, true, nil
}

// Mentioners returns users whose messages mention the user node userRemoteID
func (r *Repository) Mentioners(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	query := `
		MATCH (u:User {graph_id: $graphID})-[:SENT_MESSAGE]->(m:Message)-[:MENTIONS]->(t:User {graph_id: $graphID})
		WHERE elementId(t) = $userID
		RETURN u.user_id AS user_id
		ORDER BY m.created_at
	`
	return r.userIDs(ctx, "mentioners", query, graphID, userRemoteID)
}

// Mentioned returns users mentioned in messages sent by the user node userRemoteID
func (r *Repository) Mentioned(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	query := `
		MATCH (s:User {graph_id: $graphID})-[:SENT_MESSAGE]->(m:Message)-[:MENTIONS]->(u:User {graph_id: $graphID})
		WHERE elementId(s) = $userID
		RETURN u.user_id AS user_id
		ORDER BY m.created_at
	`
	return r.userIDs(ctx, "mentioned", query, graphID, userRemoteID)
}

func (r *Repository) userIDs(ctx context.Context, operation, query, graphID, userRemoteID string) ([]string, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]interface{}{
		"graphID": graphID,
		"userID":  userRemoteID,
	})
	if err != nil {
		return nil, requestFailed(operation, fmt.Errorf("failed to execute query: %w", err))
	}

	var ids []string
	for result.Next(ctx) {
		ids = append(ids, signal.StringValue(mustGet(result.Record(), "user_id")))
	}
	if err := result.Err(); err != nil {
		return nil, requestFailed(operation, err)
	}
	return dedupe(ids), nil
}

// GraphURL points at the configured browser, if any
func (r *Repository) GraphURL(graphID string) string {
	if r.browserURL == "" || graphID == "" {
		return ""
	}
	return fmt.Sprintf("%s/graphs/%s", r.browserURL, graphID)
}

// validateSignal rejects labels and types that would have to be spliced into Cypher
func validateSignal(s signal.Signal) error {
	switch s.Action {
	case signal.ActionNodeCreate:
		if !allowedLabels[s.Type] {
			return apperrors.NewGraphUnsupported(string(s.Action), "node type "+s.Type)
		}
	case signal.ActionNodeUpdate:
		if s.ID == "" && !allowedLabels[s.Type] {
			return apperrors.NewGraphUnsupported(string(s.Action), "node type "+s.Type)
		}
	case signal.ActionEdgeCreate:
		if !allowedRelationships[s.Name] {
			return apperrors.NewGraphUnsupported(string(s.Action), "edge type "+s.Name)
		}
		if !allowedLabels[s.FromType] || !allowedLabels[s.ToType] {
			return apperrors.NewGraphUnsupported(string(s.Action), fmt.Sprintf("endpoint types %s->%s", s.FromType, s.ToType))
		}
	case signal.ActionEdgeUpdate, signal.ActionEdgeDelete:
		if s.ID == "" {
			return apperrors.NewGraphUnsupported(string(s.Action), "missing edge id")
		}
	default:
		return apperrors.NewGraphUnsupported(string(s.Action), "unknown action")
	}
	return nil
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// nonNilProperties drops nil values, which Neo4j would treat as removals
func nonNilProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// publicProperties hides the bookkeeping properties the repository adds
func publicProperties(props map[string]any) map[string]any {
	delete(props, "graph_id")
	delete(props, "created_at")
	delete(props, "name")
	delete(props, "image")
	delete(props, "description")
	return props
}

// requestFailed wraps a driver error. Neo4j client errors (bad Cypher,
// constraint violations) fail the same way on every attempt and are marked
// non-retryable.
func requestFailed(operation string, err error) *apperrors.ErrGraphRequestFailed {
	failed := apperrors.NewGraphRequestFailed(operation, 0, err)
	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) && neoErr.Classification() == "ClientError" && !neoErr.IsRetriable() {
		failed.Retryable = false
	}
	return failed
}
