// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package neo4j

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// Properties managed by the store itself.
const (
	propKBID      = "kb_id"
	propSourceID  = "source_id"
	propRunID     = "run_id"
	propCreatedAt = "created_at"
	propUpdatedAt = "updated_at"
)

var reserved = []string{propKBID, propSourceID, propRunID, propCreatedAt, propUpdatedAt}

var writeClause = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|LOAD\s+CSV|FOREACH)\b`)

// quote validates an identifier and wraps it in backticks for interpolation.
func quote(id string) (string, error) {
	if !core.IsIdentifier(id) {
		return "", fmt.Errorf("%w: %q is not a valid identifier", storage.ErrInvalidQuery, id)
	}
	return "`" + id + "`", nil
}

func quoteAll(ids ...string) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		q, err := quote(id)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func constraintQuery(label, keyProp string) (string, error) {
	q, err := quoteAll(label, keyProp)
	if err != nil {
		return "", err
	}
	name := "schemagraph_" + label + "_" + keyProp
	return fmt.Sprintf("CREATE CONSTRAINT `%s` IF NOT EXISTS FOR (n:%s) REQUIRE (n.kb_id, n.%s) IS UNIQUE", name, q[0], q[1]), nil
}

func mergeNodeQuery(label, keyProp string) (string, error) {
	q, err := quoteAll(label, keyProp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`MERGE (n:%s {kb_id: $kb_id, %s: $key})
ON CREATE SET n += $props, n.source_id = $source_id, n.run_id = $run_id, n.created_at = $now
ON MATCH SET n += $props, n.updated_at = $now`, q[0], q[1]), nil
}

func mergeRelationshipQuery(relType, fromLabel, fromKeyProp, toLabel, toKeyProp string) (string, error) {
	q, err := quoteAll(relType, fromLabel, fromKeyProp, toLabel, toKeyProp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`MATCH (a:%s {kb_id: $kb_id, %s: $from_key})
MATCH (b:%s {kb_id: $kb_id, %s: $to_key})
MERGE (a)-[r:%s {kb_id: $kb_id}]->(b)
ON CREATE SET r += $props, r.source_id = $source_id, r.run_id = $run_id, r.created_at = $now
ON MATCH SET r += $props, r.updated_at = $now
RETURN count(r) AS matched`, q[1], q[2], q[3], q[4], q[0]), nil
}

func getNodeQuery(label, keyProp string) (string, error) {
	q, err := quoteAll(label, keyProp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MATCH (n:%s {kb_id: $kb_id, %s: $key}) RETURN n LIMIT 1", q[0], q[1]), nil
}

func getRelationshipQuery(relType, fromLabel, fromKeyProp, toLabel, toKeyProp string) (string, error) {
	q, err := quoteAll(relType, fromLabel, fromKeyProp, toLabel, toKeyProp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`MATCH (a:%s {kb_id: $kb_id, %s: $from_key})-[r:%s {kb_id: $kb_id}]->(b:%s {kb_id: $kb_id, %s: $to_key})
RETURN r LIMIT 1`, q[1], q[2], q[0], q[3], q[4]), nil
}

// findNodesQuery matches nodes of one label whose properties equal props,
// ordered by key. Parameters are named p0, p1... in sorted property order.
func findNodesQuery(label, keyProp string, props map[string]core.Value) (string, map[string]any, error) {
	q, err := quoteAll(label, keyProp)
	if err != nil {
		return "", nil, err
	}
	params := map[string]any{}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)

	var where []string
	for i, name := range names {
		qn, err := quote(name)
		if err != nil {
			return "", nil, err
		}
		param := fmt.Sprintf("p%d", i)
		where = append(where, fmt.Sprintf("n.%s = $%s", qn, param))
		params[param] = toParam(props[name])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s {kb_id: $kb_id})", q[0])
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " RETURN n ORDER BY n.%s LIMIT $limit", q[1])
	return b.String(), params, nil
}

// checkReadOnly rejects Cypher containing write clauses.
func checkReadOnly(cypher string) error {
	if strings.TrimSpace(cypher) == "" {
		return fmt.Errorf("%w: empty query", storage.ErrInvalidQuery)
	}
	if m := writeClause.FindString(cypher); m != "" {
		return fmt.Errorf("%w: write clause %q not allowed", storage.ErrInvalidQuery, strings.ToUpper(m))
	}
	return nil
}

// toParam converts a property value into a driver parameter. Neo4j stores
// scalars and homogeneous lists of scalars; anything else is stored as its
// JSON text.
func toParam(v core.Value) any {
	switch v.Kind() {
	case core.KindArray:
		items, _ := v.AsArray()
		if len(items) == 0 {
			return []any{}
		}
		kind := items[0].Kind()
		for _, item := range items {
			if !item.IsScalar() || item.Kind() != kind {
				return v.String()
			}
		}
		return v.Native()
	case core.KindObject:
		return v.String()
	default:
		return v.Native()
	}
}

// propsParam converts a property bag, dropping nulls and store-managed keys.
func propsParam(props map[string]core.Value) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v.IsNull() || slices.Contains(reserved, k) {
			continue
		}
		out[k] = toParam(v)
	}
	return out
}

// fromProps splits driver properties into user properties, skipping
// store-managed keys and the key property.
func fromProps(props map[string]any, skip string) map[string]core.Value {
	out := make(map[string]core.Value, len(props))
	for k, raw := range props {
		if k == skip || slices.Contains(reserved, k) {
			continue
		}
		v, err := core.FromNative(raw)
		if err != nil {
			v = core.String(fmt.Sprint(raw))
		}
		out[k] = v
	}
	return out
}
