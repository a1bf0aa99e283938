package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleSchema = `
kb_id: docs
embedding_config:
  enabled: true
  model: text-embedding-3-small
  text_path: $.title
node_types:
  - label: Document
    key_property: id
    declared_properties: [id, title]
  - label: Author
    key_property: email
relationship_types:
  - type: AUTHORED_BY
    from: Document
    to: Author
source_mappings:
  - source_id: confluence
    connector_url: http://connector.local/pages
    document_type: page
    node_extraction:
      target_label: Document
      property_assignments:
        title: $.title
        id: $.id
    edge_extractions:
      - relationship_type: AUTHORED_BY
        from: {label: Document, key_path: $.id}
        to:
          label: Author
          key_path: $.author.email
          create_if_missing: true
          property_assignments:
            name: $.author.name
        property_assignments:
          since: $.created
`

func TestCompileExample(t *testing.T) {
	s, err := Compile([]byte(exampleSchema))
	require.NoError(t, err)

	assert.Equal(t, "docs", s.KBID)
	assert.Equal(t, []string{"Document", "Author"}, s.Labels())
	require.Len(t, s.SourceMappings, 1)

	sm := s.SourceMappings[0]
	assert.Equal(t, "http://connector.local/pages", sm.ConnectorURL)
	require.Len(t, sm.Node.Properties, 2)
	assert.Equal(t, "id", sm.Node.Properties[0].Property, "assignments are sorted by property")
	assert.NotNil(t, sm.Node.Properties[0].Expr)

	require.Len(t, sm.Edges, 1)
	edge := sm.Edges[0]
	assert.True(t, edge.To.CreateIfMissing)
	assert.NotNil(t, edge.From.KeyExpr)
	require.Len(t, edge.To.Properties, 1)
	require.Len(t, edge.Properties, 1)

	assert.True(t, s.Embedding.Enabled)
	assert.Equal(t, "embedding", s.Embedding.TargetProperty)
	assert.NotNil(t, s.Embedding.TextExpr)
}

func TestCompileJSON(t *testing.T) {
	raw := `{
		"kb_id": "kb",
		"node_types": [{"label": "Ticket", "key_property": "key"}],
		"source_mappings": [{
			"source_id": "jira",
			"connector_url": "file:///data/jira",
			"node_extraction": {"target_label": "Ticket", "property_assignments": {"key": "$.key"}}
		}]
	}`
	s, err := Compile([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "kb", s.KBID)
	assert.False(t, s.Embedding.Enabled)
}

func TestParseErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":         "",
		"whitespace":    "   \n",
		"not yaml":      "kb_id: [unclosed",
		"unknown field": "kb_id: a\nnode_typo: []",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaValidation)
		})
	}
}

func validationErrors(t *testing.T, raw string) ValidationErrors {
	t.Helper()
	def, err := Parse([]byte(raw))
	require.NoError(t, err)
	s, errs := Validate(def)
	require.NotEmpty(t, errs)
	assert.Nil(t, s)
	return errs
}

func findError(errs ValidationErrors, path string) (ValidationError, bool) {
	for _, e := range errs {
		if e.Path == path {
			return e, true
		}
	}
	return ValidationError{}, false
}

func TestUndeclaredTargetLabel(t *testing.T) {
	raw := strings.Replace(exampleSchema, "target_label: Document", "target_label: Documnet", 1)
	errs := validationErrors(t, raw)

	e, ok := findError(errs, "source_mappings[0].node_extraction.target_label")
	require.True(t, ok, "errors: %v", errs)
	assert.Contains(t, e.Message, "Documnet")
	assert.Contains(t, e.Suggestion, "did you mean \"Document\"")
	assert.Contains(t, e.Suggestion, "Author, Document")
}

func TestMissingConnectorURL(t *testing.T) {
	raw := strings.Replace(exampleSchema, "    connector_url: http://connector.local/pages\n", "", 1)
	errs := validationErrors(t, raw)

	e, ok := findError(errs, "source_mappings[0].connector_url")
	require.True(t, ok, "errors: %v", errs)
	assert.Contains(t, e.Message, "connector_url is required")
}

func TestUnsupportedConnectorScheme(t *testing.T) {
	raw := strings.Replace(exampleSchema, "http://connector.local/pages", "ftp://connector.local/pages", 1)
	errs := validationErrors(t, raw)

	e, ok := findError(errs, "source_mappings[0].connector_url")
	require.True(t, ok)
	assert.Contains(t, e.Suggestion, "http")
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		path    string
		message string
	}{
		{
			name: "key property not assigned",
			old:  "        id: $.id\n", new: "",
			path:    "source_mappings[0].node_extraction.property_assignments",
			message: "key property",
		},
		{
			name: "undeclared property",
			old:  "        title: $.title\n", new: "        body: $.body\n",
			path:    "source_mappings[0].node_extraction.property_assignments.body",
			message: "not declared",
		},
		{
			name: "bad path expression",
			old:  "title: $.title", new: "title: $..title",
			path:    "source_mappings[0].node_extraction.property_assignments.title",
			message: "invalid path expression",
		},
		{
			name: "undeclared relationship type",
			old:  "- relationship_type: AUTHORED_BY", new: "- relationship_type: WROTE",
			path:    "source_mappings[0].edge_extractions[0].relationship_type",
			message: "WROTE",
		},
		{
			name: "relationship endpoint mismatch",
			old:  "    from: Document\n    to: Author", new: "    from: Author\n    to: Document",
			path:    "source_mappings[0].edge_extractions[0]",
			message: "does not match",
		},
		{
			name: "undeclared relationship endpoint",
			old:  "    to: Author\n", new: "    to: Person\n",
			path:    "relationship_types[0].to",
			message: "Person",
		},
		{
			name: "label not an identifier",
			old:  "- label: Author", new: "- label: Auth or",
			path:    "node_types[1].label",
			message: "not a valid identifier",
		},
		{
			name: "missing kb id",
			old:  "kb_id: docs", new: "kb_id: \"\"",
			path:    "kb_id",
			message: "required",
		},
		{
			name: "to properties without create_if_missing",
			old:  "create_if_missing: true", new: "create_if_missing: false",
			path:    "source_mappings[0].edge_extractions[0].to.property_assignments",
			message: "create_if_missing",
		},
		{
			name: "empty key path",
			old:  "key_path: $.author.email", new: "key_path: \"\"",
			path:    "source_mappings[0].edge_extractions[0].to.key_path",
			message: "required",
		},
		{
			name: "bad embedding text path",
			old:  "text_path: $.title", new: "text_path: \"$.[\"",
			path:    "embedding_config.text_path",
			message: "invalid path expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Replace(exampleSchema, tt.old, tt.new, 1)
			require.NotEqual(t, exampleSchema, raw, "replacement did not apply")

			errs := validationErrors(t, raw)
			e, ok := findError(errs, tt.path)
			require.True(t, ok, "no error at %s: %v", tt.path, errs)
			assert.Contains(t, e.Message, tt.message)
		})
	}
}

func TestDuplicateDeclarations(t *testing.T) {
	raw := `
kb_id: kb
node_types:
  - {label: A, key_property: id}
  - {label: A, key_property: id}
source_mappings:
  - source_id: s
    connector_url: http://x
    node_extraction: {target_label: A, property_assignments: {id: $.id}}
  - source_id: s
    connector_url: http://y
    node_extraction: {target_label: A, property_assignments: {id: $.id}}
`
	errs := validationErrors(t, raw)
	_, ok := findError(errs, "node_types[1].label")
	assert.True(t, ok, "errors: %v", errs)
	_, ok = findError(errs, "source_mappings[1].source_id")
	assert.True(t, ok, "errors: %v", errs)
}

func TestMissingTopLevelFields(t *testing.T) {
	errs := validationErrors(t, "embedding_config: {enabled: false}")
	for _, path := range []string{"kb_id", "node_types", "source_mappings"} {
		_, ok := findError(errs, path)
		assert.True(t, ok, "missing error for %s", path)
	}
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{
		{Message: "a is required", Path: "a"},
		{Message: "b is wrong", Path: "b", Suggestion: "fix b"},
	}
	msg := errs.Error()
	assert.Contains(t, msg, "2 problems")
	assert.Contains(t, msg, "b: b is wrong (fix b)")
	assert.ErrorIs(t, errs, ErrSchemaValidation)

}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, distance("abc", "abc"))
	assert.Equal(t, 1, distance("abc", "abd"))
	assert.Equal(t, 3, distance("", "abc"))
	assert.Equal(t, 2, distance("documnet", "document"))
}
