package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
)

// ══════════════════════════════════════════════════════════════════════════════
// LINK STORE
// ══════════════════════════════════════════════════════════════════════════════

// LinkStore implements programtree.LinkStore with recursive CTEs. Each CTE
// carries the visited node ids so a cycle in stored data cannot loop, and
// DISTINCT ON (starting node, link) keeps the shallowest occurrence of every
// link reached twice through a shared subtree.
type LinkStore struct {
	conn *Connection
}

// NewLinkStore creates a LinkStore.
func NewLinkStore(conn *Connection) *LinkStore {
	return &LinkStore{conn: conn}
}

const linkAttributeColumns = `
	l.relative_credits, l.is_mandatory, l.block, l.access_condition,
	l.comment, l.comment_english, COALESCE(l.link_type, ''), l.quadrimester_derogation`

const adjacencyQuery = `
WITH RECURSIVE adjacency AS (
    SELECT l.id, l.parent_id AS starting_node_id, l.parent_id, l.child_id, 0 AS level, l.order_index,
           l.parent_id::text || '|' || l.child_id::text AS path,
           ARRAY[l.parent_id, l.child_id] AS visited
    FROM links l
    JOIN nodes c ON c.id = l.child_id
    WHERE l.parent_id = ANY($1)
      AND (c.node_type <> 'LEARNING_UNIT' OR c.has_container)
    UNION ALL
    SELECT l.id, a.starting_node_id, l.parent_id, l.child_id, a.level + 1, l.order_index,
           a.path || '|' || l.child_id::text,
           a.visited || l.child_id
    FROM links l
    JOIN adjacency a ON l.parent_id = a.child_id
    JOIN nodes c ON c.id = l.child_id
    WHERE NOT l.child_id = ANY(a.visited)
      AND (c.node_type <> 'LEARNING_UNIT' OR c.has_container)
)
SELECT DISTINCT ON (a.starting_node_id, a.id)
       a.id, a.starting_node_id, a.parent_id, a.child_id, a.level, a.order_index, a.path,` + linkAttributeColumns + `
FROM adjacency a
JOIN links l ON l.id = a.id
ORDER BY a.starting_node_id, a.id, a.level, a.path
`

// AdjacencyList implements programtree.LinkStore.
func (s *LinkStore) AdjacencyList(ctx context.Context, rootIDs []int64) ([]programtree.AdjacencyRecord, error) {
	if len(rootIDs) == 0 {
		return []programtree.AdjacencyRecord{}, nil
	}
	rows, err := s.conn.Query(ctx, adjacencyQuery, rootIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjacency list: %w", err)
	}
	records, err := scanAdjacency(rows)
	if err != nil {
		return nil, err
	}
	programtree.SortAdjacency(records)
	return records, nil
}

const reverseAdjacencyQuery = `
WITH RECURSIVE reverse_adjacency AS (
    SELECT l.id, l.child_id AS starting_node_id, l.parent_id, l.child_id, 0 AS level, l.order_index,
           l.child_id::text || '|' || l.parent_id::text AS path,
           ARRAY[l.child_id, l.parent_id] AS visited
    FROM links l
    JOIN nodes p ON p.id = l.parent_id
    WHERE l.child_id = ANY($1)
      AND ($2::integer IS NULL OR p.year = $2)
      AND ($3::text IS NULL OR COALESCE(l.link_type, 'STANDARD') = $3)
    UNION ALL
    SELECT l.id, r.starting_node_id, l.parent_id, l.child_id, r.level + 1, l.order_index,
           r.path || '|' || l.parent_id::text,
           r.visited || l.parent_id
    FROM links l
    JOIN reverse_adjacency r ON l.child_id = r.parent_id
    JOIN nodes p ON p.id = l.parent_id
    WHERE NOT l.parent_id = ANY(r.visited)
      AND ($2::integer IS NULL OR p.year = $2)
      AND ($3::text IS NULL OR COALESCE(l.link_type, 'STANDARD') = $3)
)
SELECT DISTINCT ON (r.starting_node_id, r.id)
       r.id, r.starting_node_id, r.parent_id, r.child_id, r.level, r.order_index, r.path,` + linkAttributeColumns + `
FROM reverse_adjacency r
JOIN links l ON l.id = r.id
ORDER BY r.starting_node_id, r.id, r.level, r.path
`

// ReverseAdjacencyList implements programtree.LinkStore.
func (s *LinkStore) ReverseAdjacencyList(ctx context.Context, q programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var linkType *string
	if q.LinkType != nil {
		lt := string(*q.LinkType)
		linkType = &lt
	}
	rows, err := s.conn.Query(ctx, reverseAdjacencyQuery, q.ChildIDs, q.Year, linkType)
	if err != nil {
		return nil, fmt.Errorf("failed to query reverse adjacency list: %w", err)
	}
	records, err := scanAdjacency(rows)
	if err != nil {
		return nil, err
	}
	programtree.SortReverseAdjacency(records)
	return records, nil
}

const rootListQuery = `
WITH RECURSIVE ascent AS (
    SELECT l.child_id AS starting_node_id, l.parent_id, p.node_type,
           ARRAY[l.child_id, l.parent_id] AS visited
    FROM links l
    JOIN nodes p ON p.id = l.parent_id
    WHERE l.child_id = ANY($1)
      AND ($2::integer IS NULL OR p.year = $2)
    UNION ALL
    SELECT a.starting_node_id, l.parent_id, p.node_type,
           a.visited || l.parent_id
    FROM ascent a
    JOIN links l ON l.child_id = a.parent_id
    JOIN nodes p ON p.id = l.parent_id
    WHERE NOT (a.node_type = ANY($3))
      AND NOT l.parent_id = ANY(a.visited)
      AND ($2::integer IS NULL OR p.year = $2)
)
SELECT DISTINCT starting_node_id, parent_id
FROM ascent
WHERE node_type = ANY($3)
ORDER BY starting_node_id, parent_id
`

// RootList implements programtree.LinkStore.
func (s *LinkStore) RootList(ctx context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	types := make([]string, len(q.RootTypes))
	for i, t := range q.RootTypes {
		types[i] = string(t)
	}
	rows, err := s.conn.Query(ctx, rootListQuery, q.ChildIDs, q.Year, types)
	if err != nil {
		return nil, fmt.Errorf("failed to query root list: %w", err)
	}
	defer rows.Close()

	out := []programtree.RootRecord{}
	for rows.Next() {
		var rec programtree.RootRecord
		if err := rows.Scan(&rec.ChildID, &rec.RootID); err != nil {
			return nil, fmt.Errorf("failed to scan root record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanAdjacency(rows pgx.Rows) ([]programtree.AdjacencyRecord, error) {
	defer rows.Close()

	records := []programtree.AdjacencyRecord{}
	for rows.Next() {
		var rec programtree.AdjacencyRecord
		var block int
		var linkType string
		err := rows.Scan(
			&rec.LinkID, &rec.StartingNodeID, &rec.ParentID, &rec.ChildID, &rec.Level, &rec.Order, &rec.Path,
			&rec.Attributes.RelativeCredits,
			&rec.Attributes.IsMandatory,
			&block,
			&rec.Attributes.AccessCondition,
			&rec.Attributes.Comment,
			&rec.Attributes.CommentEnglish,
			&linkType,
			&rec.Attributes.QuadrimesterDerogation,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjacency record: %w", err)
		}
		rec.Attributes.Block = programtree.Block(block)
		rec.Attributes.LinkType = programtree.LinkType(linkType)
		records = append(records, rec)
	}
	return records, rows.Err()
}
