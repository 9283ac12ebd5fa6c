package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

const nodeColumns = `id, name, type, subtype, importance, status, confidence, properties,
	valid_from, valid_to, memory_file, source, created_at, updated_at`

const edgeColumns = `id, from_node, to_node, relationship, weight, confidence, properties,
	valid_from, valid_to, source_memory, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// UpsertNode inserts a node or merges it into the existing (name, type) row.
// Name and type are never rewritten; every other field takes the latest
// value, properties are merged key by key, and tags are attached in the same
// transaction.
func (s *Store) UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node is required", storage.ErrInvalidInput)
	}
	name := textutil.Normalize(node.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: node name is required", storage.ErrInvalidInput)
	}
	nodeType := types.ParseNodeType(string(node.Type))
	if node.Importance < 0 || node.Importance > 10 {
		return nil, fmt.Errorf("%w: importance %d out of range 0-10", storage.ErrInvalidInput, node.Importance)
	}
	if node.Confidence < 0 || node.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.2f out of range 0-1", storage.ErrInvalidInput, node.Confidence)
	}
	confidence := node.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	status := types.ParseNodeStatus(string(node.Status))
	key := textutil.Fold(name)
	now := s.now()

	var id string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.nodeByKey(ctx, tx, key, nodeType)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			id = node.ID
			if id == "" {
				id = uuid.NewString()
			}
			props, err := nullableJSON(node.Properties)
			if err != nil {
				return fmt.Errorf("sqlite: encode node properties: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO graph_nodes (id, name, name_key, type, subtype, importance, status,
					confidence, properties, valid_from, valid_to, memory_file, source, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, name, key, string(nodeType), nullableString(node.Subtype), node.Importance,
				string(status), confidence, props, nullableTime(node.ValidFrom), nullableTime(node.ValidTo),
				nullableString(node.MemoryFile), nullableString(node.Source), now, now)
			if err != nil {
				return fmt.Errorf("sqlite: insert node %q: %w", name, err)
			}
		case err != nil:
			return err
		default:
			id = existing.ID
			props, err := nullableJSON(existing.Properties.Merge(node.Properties))
			if err != nil {
				return fmt.Errorf("sqlite: encode node properties: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE graph_nodes SET
					subtype = COALESCE(?, subtype),
					importance = ?,
					status = ?,
					confidence = ?,
					properties = ?,
					valid_from = COALESCE(?, valid_from),
					valid_to = COALESCE(?, valid_to),
					memory_file = COALESCE(?, memory_file),
					source = COALESCE(?, source),
					updated_at = ?
				WHERE id = ?`,
				nullableString(node.Subtype), node.Importance, string(status), confidence, props,
				nullableTime(node.ValidFrom), nullableTime(node.ValidTo),
				nullableString(node.MemoryFile), nullableString(node.Source), now, id)
			if err != nil {
				return fmt.Errorf("sqlite: update node %q: %w", name, err)
			}
		}

		for _, tag := range node.Tags {
			t, err := s.ensureTag(ctx, tx, tag, "")
			if err != nil {
				return err
			}
			if t == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO node_tags (node_id, tag_id) VALUES (?, ?)`, id, t.ID); err != nil {
				return fmt.Errorf("sqlite: tag node %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sqlite: node upserted",
		zap.String("id", id), zap.String("name", name), zap.String("type", string(nodeType)))
	return s.GetNode(ctx, id)
}

func (s *Store) nodeByKey(ctx context.Context, q execer, key string, nodeType types.NodeType) (*types.GraphNode, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE name_key = ? AND type = ?`, key, string(nodeType))
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup node: %w", err)
	}
	return node, nil
}

// UpsertEdge inserts an edge or updates weight and confidence of the
// existing (from, to, relationship) row. Both endpoints must exist.
func (s *Store) UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error) {
	if edge == nil || edge.FromNode == "" || edge.ToNode == "" {
		return nil, fmt.Errorf("%w: edge endpoints are required", storage.ErrInvalidInput)
	}
	rel := normaliseRelationship(edge.Relationship)
	if rel == "" {
		return nil, fmt.Errorf("%w: relationship is required", storage.ErrInvalidInput)
	}
	weight := edge.Weight
	if weight <= 0 {
		weight = types.DefaultEdgeWeight
	}
	confidence := edge.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0
	}
	props, err := nullableJSON(edge.Properties)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode edge properties: %w", err)
	}
	now := s.now()

	var stored *types.GraphEdge
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{edge.FromNode, edge.ToNode} {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM graph_nodes WHERE id = ?`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("sqlite: edge endpoint %s: %w", id, storage.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("sqlite: check edge endpoint %s: %w", id, err)
			}
		}

		id := edge.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (id, from_node, to_node, relationship, weight, confidence,
				properties, valid_from, valid_to, source_memory, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (from_node, to_node, relationship) DO UPDATE SET
				weight = excluded.weight,
				confidence = excluded.confidence,
				properties = COALESCE(excluded.properties, graph_edges.properties),
				valid_from = COALESCE(excluded.valid_from, graph_edges.valid_from),
				valid_to = COALESCE(excluded.valid_to, graph_edges.valid_to),
				source_memory = COALESCE(excluded.source_memory, graph_edges.source_memory),
				updated_at = excluded.updated_at`,
			id, edge.FromNode, edge.ToNode, rel, weight, confidence, props,
			nullableTime(edge.ValidFrom), nullableTime(edge.ValidTo),
			nullableString(edge.SourceMemory), now, now)
		if err != nil {
			return fmt.Errorf("sqlite: upsert edge %s-[%s]->%s: %w", edge.FromNode, rel, edge.ToNode, err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM graph_edges
			WHERE from_node = ? AND to_node = ? AND relationship = ?`, edge.FromNode, edge.ToNode, rel)
		stored, err = scanEdge(row)
		if err != nil {
			return fmt.Errorf("sqlite: reload edge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetNode returns a node with its tags.
func (s *Store) GetNode(ctx context.Context, id string) (*types.GraphNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM graph_nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get node %s: %w", id, err)
	}

	tags, err := s.GetNodeTags(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		node.Tags = append(node.Tags, t.Tag)
	}
	return node, nil
}

// FindNodeByName matches the folded name. Without a type the most important
// node (then the most recently updated) wins.
func (s *Store) FindNodeByName(ctx context.Context, name string, nodeType *types.NodeType) (*types.GraphNode, error) {
	key := textutil.Fold(name)
	if key == "" {
		return nil, storage.ErrNotFound
	}

	query := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE name_key = ?`
	args := []interface{}{key}
	if nodeType != nil {
		query += ` AND type = ?`
		args = append(args, string(*nodeType))
	}
	query += ` ORDER BY importance DESC, updated_at DESC LIMIT 1`

	node, err := scanNode(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find node %q: %w", name, err)
	}
	return node, nil
}

// SearchNodes lists nodes matching every set filter, most important first.
func (s *Store) SearchNodes(ctx context.Context, filter storage.NodeFilter) ([]types.GraphNode, error) {
	filter.Normalize()

	var where []string
	var args []interface{}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if p := textutil.Fold(filter.NamePattern); p != "" {
		where = append(where, `name_key LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(p)+"%")
	}
	if filter.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, filter.MinImportance)
	}

	query := `SELECT ` + nodeColumns + ` FROM graph_nodes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY importance DESC, name ASC LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []types.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// NodeNames returns the name of every node, without a limit.
func (s *Store) NodeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM graph_nodes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: node names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan node name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteNode removes a node and its edges. Edges are deleted one by one; a
// failing edge delete is logged and skipped so that the remaining edges and
// the node itself are still removed. The foreign-key cascade catches any edge
// left behind.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	edges, err := s.GetEdgesForNode(ctx, id, storage.EdgeQuery{})
	if err != nil {
		return err
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM graph_nodes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: delete node %s: %w", id, err)
	}

	for _, e := range edges {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE id = ?`, e.ID); err != nil {
			s.logger.Warn("sqlite: failed to delete edge during node delete",
				zap.String("node_id", id), zap.String("edge_id", e.ID), zap.Error(err))
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete node %s: %w", id, err)
	}
	s.logger.Debug("sqlite: node deleted", zap.String("id", id), zap.Int("edges", len(edges)))
	return nil
}

// GetEdgesForNode lists edges around a node, heaviest first.
func (s *Store) GetEdgesForNode(ctx context.Context, id string, q storage.EdgeQuery) ([]types.GraphEdge, error) {
	q.Normalize()
	return s.edgesForNodes(ctx, s.db, []string{id}, q)
}

func (s *Store) edgesForNodes(ctx context.Context, db execer, ids []string, q storage.EdgeQuery) ([]types.GraphEdge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := placeholders(len(ids))

	var args []interface{}
	var where string
	switch q.Direction {
	case types.DirectionOut:
		where = "from_node IN (" + in + ")"
		args = stringArgs(ids)
	case types.DirectionIn:
		where = "to_node IN (" + in + ")"
		args = stringArgs(ids)
	default:
		where = "(from_node IN (" + in + ") OR to_node IN (" + in + "))"
		args = append(stringArgs(ids), stringArgs(ids)...)
	}

	if len(q.RelationshipTypes) > 0 {
		rels := make([]string, 0, len(q.RelationshipTypes))
		for _, r := range q.RelationshipTypes {
			if n := normaliseRelationship(r); n != "" {
				rels = append(rels, n)
			}
		}
		if len(rels) > 0 {
			where += " AND relationship IN (" + placeholders(len(rels)) + ")"
			args = append(args, stringArgs(rels)...)
		}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE `+where+` ORDER BY weight DESC, created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.GraphEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// EnsureTag registers tag text or increments the usage count of an existing tag.
func (s *Store) EnsureTag(ctx context.Context, tag, category string) (*types.Tag, error) {
	var out *types.Tag
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.ensureTag(ctx, tx, tag, category)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: tag is empty", storage.ErrInvalidInput)
	}
	return out, nil
}

// ensureTag returns nil for empty tag text.
func (s *Store) ensureTag(ctx context.Context, q execer, tag, category string) (*types.Tag, error) {
	text := normaliseTag(tag)
	if text == "" {
		return nil, nil
	}
	now := s.now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO tags (id, tag, category, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (tag) DO UPDATE SET
			usage_count = tags.usage_count + 1,
			category = COALESCE(excluded.category, tags.category),
			updated_at = excluded.updated_at`,
		uuid.NewString(), text, nullableString(category), now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ensure tag %q: %w", text, err)
	}

	var t types.Tag
	var cat sql.NullString
	err = q.QueryRowContext(ctx, `SELECT id, tag, category, usage_count FROM tags WHERE tag = ?`, text).
		Scan(&t.ID, &t.Tag, &cat, &t.UsageCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reload tag %q: %w", text, err)
	}
	t.Category = cat.String
	return &t, nil
}

// TagNode attaches tag to the node, registering the tag if needed.
func (s *Store) TagNode(ctx context.Context, nodeID, tag string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM graph_nodes WHERE id = ?`, nodeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: tag node %s: %w", nodeID, err)
		}

		t, err := s.ensureTag(ctx, tx, tag, "")
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: tag is empty", storage.ErrInvalidInput)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO node_tags (node_id, tag_id) VALUES (?, ?)`, nodeID, t.ID); err != nil {
			return fmt.Errorf("sqlite: tag node %s: %w", nodeID, err)
		}
		return nil
	})
}

// GetNodeTags lists the tags of a node alphabetically.
func (s *Store) GetNodeTags(ctx context.Context, nodeID string) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.tag, t.category, t.usage_count
		FROM node_tags nt JOIN tags t ON t.id = nt.tag_id
		WHERE nt.node_id = ?
		ORDER BY t.tag`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: node tags %s: %w", nodeID, err)
	}
	return scanTags(rows)
}

// GetPopularTags lists tags by usage count (default 10).
func (s *Store) GetPopularTags(ctx context.Context, limit int) ([]types.Tag, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, category, usage_count FROM tags
		ORDER BY usage_count DESC, tag ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: popular tags: %w", err)
	}
	return scanTags(rows)
}

func scanTags(rows *sql.Rows) ([]types.Tag, error) {
	defer func() { _ = rows.Close() }()
	var tags []types.Tag
	for rows.Next() {
		var t types.Tag
		var cat sql.NullString
		if err := rows.Scan(&t.ID, &t.Tag, &cat, &t.UsageCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag: %w", err)
		}
		t.Category = cat.String
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanNode(row rowScanner) (*types.GraphNode, error) {
	var n types.GraphNode
	var nodeType, status string
	var subtype, props, memoryFile, source sql.NullString
	var validFrom, validTo sql.NullTime
	err := row.Scan(&n.ID, &n.Name, &nodeType, &subtype, &n.Importance, &status, &n.Confidence,
		&props, &validFrom, &validTo, &memoryFile, &source, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = types.ParseNodeType(nodeType)
	n.Status = types.ParseNodeStatus(status)
	n.Subtype = subtype.String
	n.MemoryFile = memoryFile.String
	n.Source = source.String
	n.ValidFrom = timePtr(validFrom)
	n.ValidTo = timePtr(validTo)
	if err := fromJSON(props, &n.Properties); err != nil {
		return nil, fmt.Errorf("decode node properties: %w", err)
	}
	return &n, nil
}

func scanEdge(row rowScanner) (*types.GraphEdge, error) {
	var e types.GraphEdge
	var props, sourceMemory sql.NullString
	var validFrom, validTo sql.NullTime
	err := row.Scan(&e.ID, &e.FromNode, &e.ToNode, &e.Relationship, &e.Weight, &e.Confidence,
		&props, &validFrom, &validTo, &sourceMemory, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.SourceMemory = sourceMemory.String
	e.ValidFrom = timePtr(validFrom)
	e.ValidTo = timePtr(validTo)
	if err := fromJSON(props, &e.Properties); err != nil {
		return nil, fmt.Errorf("decode edge properties: %w", err)
	}
	return &e, nil
}

// normaliseRelationship lowercases a label and joins words with underscores.
func normaliseRelationship(r string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(r, "-", " "))), "_")
}

func normaliseTag(tag string) string {
	return textutil.Fold(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
