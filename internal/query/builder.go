package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Builder functions are pure: structured entities in, statement text out.
// All values are escaped; labels, relationship types and property keys are
// validated against the identifier rules to prevent injection.

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier reports whether s can be safely spliced into a statement
// as a label, relationship type or property key.
func isValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// EscapeValue renders a Go value as a statement literal. Strings are quoted
// with backslash-escaping of quotes and backslashes; numbers and booleans are
// emitted literally; nil becomes NULL; slices and maps are rendered
// recursively as list and map literals.
func EscapeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return escapeString(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = EscapeValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = escapeString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := sortedKeys(val)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", escapeKey(k), EscapeValue(val[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return escapeString(fmt.Sprintf("%v", val))
	}
}

// escapeKey renders a map-literal key. Plain identifiers are spliced as-is;
// anything else is backtick-quoted with embedded backticks doubled, so keys
// inside nested object values cannot break out of the literal.
func escapeKey(k string) string {
	if isValidIdentifier(k) {
		return k
	}
	return "`" + strings.ReplaceAll(k, "`", "``") + "`"
}

func escapeString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateProps(props map[string]any) error {
	for k := range props {
		if !isValidIdentifier(k) {
			return fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", k)
		}
	}
	return nil
}

// setClauses renders "n.key = <literal>" assignments in deterministic key order.
func setClauses(alias string, props map[string]any) string {
	keys := sortedKeys(props)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s.%s = %s", alias, k, EscapeValue(props[k])))
	}
	return strings.Join(parts, ", ")
}

// InsertNode builds an idempotent single-node upsert keyed on id.
func InsertNode(node GraphNode) (Statement, error) {
	if !isValidIdentifier(node.Label) {
		return Statement{}, fmt.Errorf("invalid node label: %s", node.Label)
	}
	if node.ID == "" {
		return Statement{}, fmt.Errorf("node id is required")
	}
	if err := validateProps(node.Properties); err != nil {
		return Statement{}, err
	}

	text := fmt.Sprintf("MERGE (n:%s {id: %s})", node.Label, escapeString(node.ID))
	if len(node.Properties) > 0 {
		text += " SET " + setClauses("n", node.Properties)
	}
	return Statement{Text: text}, nil
}

// UpdateNode builds a property update for an existing node.
func UpdateNode(node GraphNode) (Statement, error) {
	if !isValidIdentifier(node.Label) {
		return Statement{}, fmt.Errorf("invalid node label: %s", node.Label)
	}
	if node.ID == "" {
		return Statement{}, fmt.Errorf("node id is required")
	}
	if len(node.Properties) == 0 {
		return Statement{}, fmt.Errorf("update requires at least one property")
	}
	if err := validateProps(node.Properties); err != nil {
		return Statement{}, err
	}

	text := fmt.Sprintf("MATCH (n:%s {id: %s}) SET %s",
		node.Label, escapeString(node.ID), setClauses("n", node.Properties))
	return Statement{Text: text}, nil
}

// DeleteNode builds a delete that also removes attached relationships.
func DeleteNode(label, id string) (Statement, error) {
	if !isValidIdentifier(label) {
		return Statement{}, fmt.Errorf("invalid node label: %s", label)
	}
	if id == "" {
		return Statement{}, fmt.Errorf("node id is required")
	}
	text := fmt.Sprintf("MATCH (n:%s {id: %s}) DETACH DELETE n", label, escapeString(id))
	return Statement{Text: text}, nil
}

// InsertRelationship builds an idempotent edge upsert between two nodes by id.
func InsertRelationship(rel GraphRelationship) (Statement, error) {
	if !isValidIdentifier(rel.Type) {
		return Statement{}, fmt.Errorf("invalid relationship type: %s", rel.Type)
	}
	if rel.SourceID == "" || rel.TargetID == "" {
		return Statement{}, fmt.Errorf("relationship endpoints are required")
	}
	if err := validateProps(rel.Properties); err != nil {
		return Statement{}, err
	}

	text := fmt.Sprintf("MATCH (a {id: %s}) MATCH (b {id: %s}) MERGE (a)-[r:%s]->(b)",
		escapeString(rel.SourceID), escapeString(rel.TargetID), rel.Type)
	if len(rel.Properties) > 0 {
		text += " SET " + setClauses("r", rel.Properties)
	}
	return Statement{Text: text}, nil
}

// RelatedNodes builds a bounded-depth traversal: nodes reachable from id
// within maxHops over the given relationship types. Empty relTypes means any
// relationship.
func RelatedNodes(id string, maxHops int, relTypes []string) (Statement, error) {
	if id == "" {
		return Statement{}, fmt.Errorf("start node id is required")
	}
	if maxHops < 1 {
		return Statement{}, fmt.Errorf("maxHops must be >= 1, got %d", maxHops)
	}
	for _, rt := range relTypes {
		if !isValidIdentifier(rt) {
			return Statement{}, fmt.Errorf("invalid relationship type: %s", rt)
		}
	}

	relPattern := ""
	if len(relTypes) > 0 {
		relPattern = ":" + strings.Join(relTypes, "|")
	}
	text := fmt.Sprintf("MATCH (start {id: %s})-[%s*1..%d]-(related) RETURN DISTINCT related",
		escapeString(id), relPattern, maxHops)
	return Statement{Text: text}, nil
}

// ShortestPath builds a shortest-path query between two nodes, capped at
// maxHops to prevent unbounded searches.
func ShortestPath(sourceID, targetID string, maxHops int) (Statement, error) {
	if sourceID == "" || targetID == "" {
		return Statement{}, fmt.Errorf("both node ids are required")
	}
	if maxHops < 1 {
		return Statement{}, fmt.Errorf("maxHops must be >= 1, got %d", maxHops)
	}
	text := fmt.Sprintf(
		"MATCH (a {id: %s}), (b {id: %s}), p = shortestPath((a)-[*..%d]-(b)) RETURN p",
		escapeString(sourceID), escapeString(targetID), maxHops)
	return Statement{Text: text}, nil
}

// InsertNodesBatch builds one statement covering many same-labeled nodes.
// The UNWIND form keeps statement text bounded and lets the server optimize
// execution; node data travels through the parameter map.
func InsertNodesBatch(label string, nodes []GraphNode) (Statement, error) {
	if !isValidIdentifier(label) {
		return Statement{}, fmt.Errorf("invalid node label: %s", label)
	}
	if len(nodes) == 0 {
		return Statement{}, fmt.Errorf("empty node batch")
	}

	rows := make([]map[string]any, len(nodes))
	for i, node := range nodes {
		if node.Label != label {
			return Statement{}, fmt.Errorf("mixed labels in batch: %s and %s", label, node.Label)
		}
		if node.ID == "" {
			return Statement{}, fmt.Errorf("node id is required (index %d)", i)
		}
		if err := validateProps(node.Properties); err != nil {
			return Statement{}, err
		}
		rows[i] = map[string]any{"id": node.ID, "props": node.Properties}
	}

	text := fmt.Sprintf(
		"UNWIND $nodes AS node MERGE (n:%s {id: node.id}) SET n += node.props RETURN count(n) AS created",
		label)
	return Statement{Text: text, Params: map[string]any{"nodes": rows}}, nil
}

// InsertRelationshipsBatch builds one statement covering many same-typed
// relationships.
func InsertRelationshipsBatch(relType string, rels []GraphRelationship) (Statement, error) {
	if !isValidIdentifier(relType) {
		return Statement{}, fmt.Errorf("invalid relationship type: %s", relType)
	}
	if len(rels) == 0 {
		return Statement{}, fmt.Errorf("empty relationship batch")
	}

	rows := make([]map[string]any, len(rels))
	for i, rel := range rels {
		if rel.Type != relType {
			return Statement{}, fmt.Errorf("mixed types in batch: %s and %s", relType, rel.Type)
		}
		if rel.SourceID == "" || rel.TargetID == "" {
			return Statement{}, fmt.Errorf("relationship endpoints are required (index %d)", i)
		}
		if err := validateProps(rel.Properties); err != nil {
			return Statement{}, err
		}
		rows[i] = map[string]any{
			"source": rel.SourceID,
			"target": rel.TargetID,
			"props":  rel.Properties,
		}
	}

	text := fmt.Sprintf(
		"UNWIND $rels AS rel MATCH (a {id: rel.source}) MATCH (b {id: rel.target}) "+
			"MERGE (a)-[r:%s]->(b) SET r += rel.props RETURN count(r) AS created",
		relType)
	return Statement{Text: text, Params: map[string]any{"rels": rows}}, nil
}

// EnsureSpace builds the provisioning statement for a logical namespace.
func EnsureSpace(space string) (Statement, error) {
	if !isValidIdentifier(space) {
		return Statement{}, fmt.Errorf("invalid space name: %s", space)
	}
	return Statement{Text: fmt.Sprintf("CREATE DATABASE %s IF NOT EXISTS", space)}, nil
}
