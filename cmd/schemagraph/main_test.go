package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/schemagraph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const cliSchema = `
kb_id: library
node_types:
  - {label: Document, key_property: id}
  - {label: Author, key_property: email}
relationship_types:
  - {type: AUTHORED_BY, from: Document, to: Author}
source_mappings:
  - source_id: files
    connector_url: file://%s
    node_extraction:
      target_label: Document
      property_assignments: {id: $.id, title: $.title}
    edge_extractions:
      - relationship_type: AUTHORED_BY
        from: {label: Document, key_path: $.id}
        to: {label: Author, key_path: $.author, create_if_missing: true}
`

func findFlag(t *testing.T, cmd *cli.Command, name string) cli.Flag {
	t.Helper()
	for _, flag := range cmd.Flags {
		for _, n := range flag.Names() {
			if n == name {
				return flag
			}
		}
	}
	t.Fatalf("flag %q not found on %s", name, cmd.Name)
	return nil
}

func command(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	cmd := app.Command(name)
	require.NotNil(t, cmd, name)
	return cmd
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("db is required", func(t *testing.T) {
		for _, name := range []string{"register", "ingest", "status", "runs", "find", "query"} {
			f := findFlag(t, command(t, app, name), "db").(*cli.StringFlag)
			assert.True(t, f.Required, name)
		}
	})

	t.Run("neo4j flags read the environment", func(t *testing.T) {
		cmd := command(t, app, "ingest")
		assert.Equal(t, []string{"NEO4J_URI"}, findFlag(t, cmd, "neo4j-uri").(*cli.StringFlag).EnvVars)
		assert.Equal(t, []string{"NEO4J_PASSWORD"}, findFlag(t, cmd, "neo4j-password").(*cli.StringFlag).EnvVars)
		assert.Equal(t, "neo4j", findFlag(t, cmd, "neo4j-user").(*cli.StringFlag).Value)
	})

	t.Run("ingest defaults", func(t *testing.T) {
		cmd := command(t, app, "ingest")
		assert.Equal(t, 0.5, findFlag(t, cmd, "failure-threshold").(*cli.Float64Flag).Value)
		assert.Equal(t, "http://localhost:11434/v1", findFlag(t, cmd, "embedding-host").(*cli.StringFlag).Value)
		assert.True(t, findFlag(t, cmd, "kb").(*cli.StringFlag).Required)
	})

	t.Run("missing kb is rejected", func(t *testing.T) {
		err := newApp().Run([]string{"schemagraph", "ingest", "--db", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kb")
	})
}

func TestSetupLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		app := newApp()
		app.Commands = []*cli.Command{{Name: "noop", Action: func(*cli.Context) error { return nil }}}
		assert.NoError(t, app.Run([]string{"schemagraph", "--log-level", level, "noop"}), level)
	}

	app := newApp()
	err := app.Run([]string{"schemagraph", "--log-level", "loud", "validate", "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestParseProps(t *testing.T) {
	props, err := parseProps([]string{"name=A", "age=42", "tags=[\"x\"]", "note=a=b"})
	require.NoError(t, err)
	assert.True(t, props["name"].Equal(core.String("A")))
	assert.True(t, props["age"].Equal(core.Number(42)))
	assert.True(t, props["tags"].Equal(core.Array(core.String("x"))))
	assert.True(t, props["note"].Equal(core.String("a=b")))

	_, err = parseProps([]string{"novalue"})
	assert.Error(t, err)
}

func writeFixtures(t *testing.T) (schemaPath string) {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(docs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "001.json"),
		[]byte(`{"id": "d1", "title": "T", "author": "a@x"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "002.json"),
		[]byte(`{"id": "d2", "title": "U", "author": "a@x"}`), 0644))

	schemaPath = filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(fmt.Sprintf(cliSchema, docs)), 0644))
	return schemaPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"schemagraph"}, args...))
	return out.String() + errOut.String(), err
}

func TestValidateCommand(t *testing.T) {
	schemaPath := writeFixtures(t)

	out, err := run(t, "validate", schemaPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema is valid")
	assert.Contains(t, out, `"kb_id": "library"`)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("kb_id: library\n"), 0644))
	out, err = run(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "schema is invalid")
}

func TestRegisterIngestStatus(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	schemaPath := writeFixtures(t)
	db := filepath.Join(t.TempDir(), "db")

	_, err := run(t, "register", "--db", db, schemaPath)
	require.NoError(t, err)

	out, err := run(t, "ingest", "--db", db, "--kb", "library", "--batch-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed: 2 documents, 3 nodes created, 2 relationships created, 0 errors")

	out, err = run(t, "status", "--db", db, "--kb", "library")
	require.NoError(t, err)
	var status core.KnowledgeBaseStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, int64(3), status.TotalNodes)
	assert.Equal(t, int64(2), status.TotalRelationships)
	require.Len(t, status.Sources, 1)
	assert.Equal(t, "002.json", status.Sources[0].Cursor)
	assert.Equal(t, 1, status.Sources[0].TotalRuns)

	out, err = run(t, "find", "--db", db, "--kb", "library", "--label", "Document", "--prop", "title=U")
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "d2"`)

	_, err = run(t, "query", "--db", db, "--kb", "library", "MATCH (n) RETURN n")
	assert.Error(t, err)
}
