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

package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/pathexpr"
)

const (
	defaultEmbeddingTextPath = "$"
	defaultEmbeddingProperty = "embedding"
)

var (
	kbIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	// SupportedSchemes lists the connector URL schemes a source may use.
	SupportedSchemes = []string{"http", "https", "file"}
)

type validator struct {
	errs    ValidationErrors
	sources map[string]bool
}

func (v *validator) add(path, suggestion, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Message:    fmt.Sprintf(format, args...),
		Path:       path,
		Suggestion: suggestion,
	})
}

func (v *validator) identifier(path, what, name string) bool {
	if name == "" {
		v.add(path, "", "%s is required", what)
		return false
	}
	if !core.IsIdentifier(name) {
		v.add(path, "use letters, digits and underscores, starting with a letter or underscore",
			"%s %q is not a valid identifier", what, name)
		return false
	}
	return true
}

// compile compiles a path expression and checks that it evaluates on an
// empty probe document.
func (v *validator) compile(path, source string) core.Evaluator {
	if strings.TrimSpace(source) == "" {
		v.add(path, "use $ for the whole document", "path expression is required")
		return nil
	}
	expr, err := pathexpr.Compile(source)
	if err != nil {
		v.add(path, "expressions look like $.field.nested[0]", "%v", err)
		return nil
	}
	if err := probe(expr); err != nil {
		v.add(path, "", "path expression %q failed on an empty document: %v", source, err)
		return nil
	}
	return expr
}

func probe(expr core.Evaluator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	expr.Evaluate(core.Object(nil))
	return nil
}

// Validate checks a definition structurally and for cross references and
// compiles it. Either a schema or a non-empty error list is returned.
func Validate(def *Definition) (*core.Schema, ValidationErrors) {
	if def == nil {
		return nil, ValidationErrors{{Message: "schema definition is required"}}
	}

	v := &validator{sources: make(map[string]bool)}
	s := &core.Schema{KBID: def.KBID}

	switch {
	case def.KBID == "":
		v.add("kb_id", "", "kb_id is required")
	case !kbIDPattern.MatchString(def.KBID):
		v.add("kb_id", "use letters, digits, '_', '-' and '.'", "kb_id %q is not valid", def.KBID)
	}
	if len(def.NodeTypes) == 0 {
		v.add("node_types", "declare at least one node type", "node_types is required")
	}
	if len(def.SourceMappings) == 0 {
		v.add("source_mappings", "declare at least one source mapping", "source_mappings is required")
	}

	s.NodeTypes = v.nodeTypes(def.NodeTypes)
	s.RelationshipTypes = v.relationshipTypes(s, def.RelationshipTypes)
	s.Embedding = v.embedding(def.EmbeddingConfig)
	for i := range def.SourceMappings {
		if sm, ok := v.sourceMapping(s, i, &def.SourceMappings[i]); ok {
			s.SourceMappings = append(s.SourceMappings, sm)
		}
	}

	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return s, nil
}

// Compile parses and validates a raw definition.
func Compile(raw []byte) (*core.Schema, error) {
	def, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s, errs := Validate(def)
	if len(errs) > 0 {
		return nil, errs
	}
	return s, nil
}

func (v *validator) nodeTypes(defs []NodeTypeDefinition) []core.NodeType {
	var out []core.NodeType
	seen := make(map[string]bool)
	for i, nt := range defs {
		path := fmt.Sprintf("node_types[%d]", i)
		ok := v.identifier(path+".label", "label", nt.Label)
		if ok && seen[nt.Label] {
			v.add(path+".label", "", "node type %q is declared more than once", nt.Label)
			ok = false
		}
		seen[nt.Label] = true
		if !v.identifier(path+".key_property", "key_property", nt.KeyProperty) {
			ok = false
		}
		for j, p := range nt.DeclaredProperties {
			if !v.identifier(fmt.Sprintf("%s.declared_properties[%d]", path, j), "property", p) {
				ok = false
			}
		}
		if ok {
			out = append(out, core.NodeType{
				Label:              nt.Label,
				KeyProperty:        nt.KeyProperty,
				DeclaredProperties: slices.Clone(nt.DeclaredProperties),
			})
		}
	}
	return out
}

func (v *validator) relationshipTypes(s *core.Schema, defs []RelationshipTypeDefinition) []core.RelationshipType {
	var out []core.RelationshipType
	seen := make(map[string]bool)
	for i, rt := range defs {
		path := fmt.Sprintf("relationship_types[%d]", i)
		ok := v.identifier(path+".type", "type", rt.Type)
		if ok && seen[rt.Type] {
			v.add(path+".type", "", "relationship type %q is declared more than once", rt.Type)
			ok = false
		}
		seen[rt.Type] = true
		if !v.label(s, path+".from", rt.From) {
			ok = false
		}
		if !v.label(s, path+".to", rt.To) {
			ok = false
		}
		if ok {
			out = append(out, core.RelationshipType{Type: rt.Type, From: rt.From, To: rt.To})
		}
	}
	return out
}

// label reports whether label names a declared node type.
func (v *validator) label(s *core.Schema, path, label string) bool {
	if label == "" {
		v.add(path, "", "label is required")
		return false
	}
	if _, ok := s.NodeType(label); !ok {
		v.add(path, suggest("declared labels", label, s.Labels()), "undeclared label %q", label)
		return false
	}
	return true
}

func (v *validator) embedding(def *EmbeddingDefinition) core.EmbeddingConfig {
	if def == nil || !def.Enabled {
		return core.EmbeddingConfig{}
	}
	cfg := core.EmbeddingConfig{
		Enabled:        true,
		Model:          def.Model,
		TextPath:       def.TextPath,
		TargetProperty: def.TargetProperty,
	}
	if cfg.TextPath == "" {
		cfg.TextPath = defaultEmbeddingTextPath
	}
	if cfg.TargetProperty == "" {
		cfg.TargetProperty = defaultEmbeddingProperty
	}
	cfg.TextExpr = v.compile("embedding_config.text_path", cfg.TextPath)
	v.identifier("embedding_config.target_property", "target_property", cfg.TargetProperty)
	return cfg
}

func (v *validator) sourceMapping(s *core.Schema, i int, def *SourceMappingDefinition) (core.SourceMapping, bool) {
	path := fmt.Sprintf("source_mappings[%d]", i)
	before := len(v.errs)
	sm := core.SourceMapping{
		SourceID:     def.SourceID,
		ConnectorURL: def.ConnectorURL,
		DocumentType: def.DocumentType,
	}

	switch {
	case def.SourceID == "":
		v.add(path+".source_id", "", "source_id is required")
	case v.sources[def.SourceID]:
		v.add(path+".source_id", "", "source_id %q is used by more than one mapping", def.SourceID)
	}
	v.sources[def.SourceID] = true

	v.connectorURL(path+".connector_url", def.ConnectorURL)

	if def.NodeExtraction == nil {
		v.add(path+".node_extraction", "", "node_extraction is required")
	} else {
		sm.Node = v.nodeExtraction(s, path+".node_extraction", def.NodeExtraction)
	}

	for j := range def.EdgeExtractions {
		edge := v.edgeExtraction(s, fmt.Sprintf("%s.edge_extractions[%d]", path, j), &def.EdgeExtractions[j])
		sm.Edges = append(sm.Edges, edge)
	}

	return sm, len(v.errs) == before
}

func (v *validator) connectorURL(path, raw string) {
	if strings.TrimSpace(raw) == "" {
		v.add(path, "every source mapping must name the connector endpoint it pulls from",
			"connector_url is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.add(path, "", "connector_url is not a valid URL: %v", err)
		return
	}
	if !slices.Contains(SupportedSchemes, u.Scheme) {
		v.add(path, "supported schemes: "+strings.Join(SupportedSchemes, ", "),
			"connector_url scheme %q is not supported", u.Scheme)
	}
}

func (v *validator) nodeExtraction(s *core.Schema, path string, def *NodeExtractionDefinition) core.NodeExtraction {
	out := core.NodeExtraction{TargetLabel: def.TargetLabel}
	if !v.label(s, path+".target_label", def.TargetLabel) {
		return out
	}
	nt, _ := s.NodeType(def.TargetLabel)
	out.Properties = v.assignments(path+".property_assignments", nt, def.PropertyAssignments)
	if _, ok := def.PropertyAssignments[nt.KeyProperty]; !ok {
		v.add(path+".property_assignments",
			fmt.Sprintf("add an assignment for %q", nt.KeyProperty),
			"key property %q of %s is not assigned", nt.KeyProperty, nt.Label)
	}
	return out
}

// assignments validates and compiles property assignments in property order.
// When nt is non-nil, properties must be declared by it.
func (v *validator) assignments(path string, nt *core.NodeType, defs map[string]string) []core.Assignment {
	props := make([]string, 0, len(defs))
	for p := range defs {
		props = append(props, p)
	}
	slices.Sort(props)

	out := make([]core.Assignment, 0, len(props))
	for _, p := range props {
		at := path + "." + p
		if !v.identifier(at, "property", p) {
			continue
		}
		if nt != nil && !nt.Declares(p) {
			v.add(at, suggest("declared properties", p, nt.DeclaredProperties),
				"property %q is not declared on %s", p, nt.Label)
			continue
		}
		expr := v.compile(at, defs[p])
		out = append(out, core.Assignment{Property: p, Path: defs[p], Expr: expr})
	}
	return out
}

func (v *validator) edgeExtraction(s *core.Schema, path string, def *EdgeExtractionDefinition) core.EdgeExtraction {
	out := core.EdgeExtraction{RelationshipType: def.RelationshipType}

	fromOK := v.label(s, path+".from.label", def.From.Label)
	toOK := v.label(s, path+".to.label", def.To.Label)

	if v.identifier(path+".relationship_type", "relationship_type", def.RelationshipType) {
		rt, ok := s.RelationshipType(def.RelationshipType)
		switch {
		case !ok:
			var declared []string
			for _, r := range s.RelationshipTypes {
				declared = append(declared, r.Type)
			}
			v.add(path+".relationship_type", suggest("declared relationship types", def.RelationshipType, declared),
				"undeclared relationship type %q", def.RelationshipType)
		case fromOK && toOK && (rt.From != def.From.Label || rt.To != def.To.Label):
			v.add(path, fmt.Sprintf("%s is declared as (%s)->(%s)", rt.Type, rt.From, rt.To),
				"edge (%s)-[%s]->(%s) does not match the declared endpoints",
				def.From.Label, rt.Type, def.To.Label)
		}
	}

	if def.From.CreateIfMissing || len(def.From.PropertyAssignments) > 0 {
		v.add(path+".from", "move them to the to endpoint",
			"create_if_missing and property_assignments are only supported on the to endpoint")
	}
	if len(def.To.PropertyAssignments) > 0 && !def.To.CreateIfMissing {
		v.add(path+".to.property_assignments", "set create_if_missing: true",
			"property_assignments on the to endpoint only apply when create_if_missing is set")
	}

	out.From = core.EdgeEndpoint{
		Label:   def.From.Label,
		KeyPath: def.From.KeyPath,
		KeyExpr: v.compile(path+".from.key_path", def.From.KeyPath),
	}
	out.To = core.EdgeEndpoint{
		Label:           def.To.Label,
		KeyPath:         def.To.KeyPath,
		KeyExpr:         v.compile(path+".to.key_path", def.To.KeyPath),
		CreateIfMissing: def.To.CreateIfMissing,
	}
	if toOK {
		nt, _ := s.NodeType(def.To.Label)
		out.To.Properties = v.assignments(path+".to.property_assignments", nt, def.To.PropertyAssignments)
	}
	out.Properties = v.assignments(path+".property_assignments", nil, def.PropertyAssignments)
	return out
}

// suggest builds a hint naming the closest candidate and listing all of them.
func suggest(what, name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := slices.Clone(candidates)
	slices.Sort(sorted)
	hint := fmt.Sprintf("%s: %s", what, strings.Join(sorted, ", "))

	best, bestDist := "", len(name)/2+2
	for _, c := range sorted {
		if d := distance(strings.ToLower(name), strings.ToLower(c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best != "" {
		return fmt.Sprintf("did you mean %q? %s", best, hint)
	}
	return hint
}

// distance is the Levenshtein edit distance between a and b.
func distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
