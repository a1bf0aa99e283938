package schemagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/poiesic/schemagraph/ai/mock"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/ingestion"
	"github.com/poiesic/schemagraph/schema"
	"github.com/poiesic/schemagraph/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
kb_id: library
%s
node_types:
  - {label: Document, key_property: id}
  - {label: Author, key_property: email}
relationship_types:
  - {type: AUTHORED_BY, from: Document, to: Author}
source_mappings:
  - source_id: docs
    connector_url: %s
    node_extraction:
      target_label: Document
      property_assignments: {id: $.id, title: $.title}
    edge_extractions:
      - relationship_type: AUTHORED_BY
        from: {label: Document, key_path: $.id}
        to:
          label: Author
          key_path: $.author.email
          create_if_missing: true
          property_assignments: {name: $.author.name}
  - source_id: archive
    connector_url: %s
    node_extraction:
      target_label: Document
      property_assignments: {id: $.id}
`

func docServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docs := []map[string]any{
			{"id": "d1", "title": "T", "author": map[string]any{"email": "a@x", "name": "A"}},
		}
		_ = json.NewEncoder(w).Encode(docs)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func schemaFor(url, embedding string) []byte {
	return []byte(fmt.Sprintf(testSchema, embedding, url, url))
}

func TestOpen(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		e, err := Open(context.Background(), "")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.NotNil(t, e.graph)
		assert.NotNil(t, e.pipeline)
		assert.NoError(t, e.Close())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		e, err := Open(context.Background(), tmpFile)
		assert.Error(t, err)
		assert.Nil(t, e)
	})
}

func TestEngineIngestAndQuery(t *testing.T) {
	ctx := context.Background()
	srv := docServer(t)

	e, err := Open(ctx, "", WithPipelineOptions(ingestion.WithPoolSize(2)))
	require.NoError(t, err)
	defer e.Close()

	summary, err := e.RegisterSchema(ctx, schemaFor(srv.URL, ""))
	require.NoError(t, err)
	assert.Equal(t, schema.Summary{
		KBID:          "library",
		Nodes:         []string{"Document", "Author"},
		Relationships: []string{"AUTHORED_BY"},
		Sources:       []string{"docs", "archive"},
	}, summary)
	assert.Equal(t, []string{"library"}, e.KnowledgeBases())

	run, err := e.Ingest(ctx, "library", "docs")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, int64(2), run.NodesCreated)
	assert.Equal(t, int64(1), run.RelationshipsCreated)

	got, err := e.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	status, err := e.Status(ctx, "library")
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.TotalNodes)
	assert.Equal(t, int64(1), status.TotalRelationships)
	require.Len(t, status.Sources, 2)
	assert.Equal(t, "docs", status.Sources[0].SourceID)
	assert.Equal(t, run.ID, status.Sources[0].LastRunID)
	assert.Equal(t, "archive", status.Sources[1].SourceID)
	assert.Zero(t, status.Sources[1].TotalRuns)

	nodes, err := e.FindNodes(ctx, "library", "Author", map[string]core.Value{"name": core.String("A")}, 10)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a@x", nodes[0].Key)

	_, err = e.Query(ctx, "library", "MATCH (n) RETURN n", nil)
	assert.ErrorIs(t, err, storage.ErrQueryUnsupported)
}

func TestEngineRejectsInvalidSchema(t *testing.T) {
	e, err := Open(context.Background(), "")
	require.NoError(t, err)
	defer e.Close()

	_, err = e.RegisterSchema(context.Background(), []byte("kb_id: x\nnode_types: []\n"))
	assert.ErrorIs(t, err, schema.ErrSchemaValidation)
	assert.Empty(t, e.KnowledgeBases())
}

func TestEngineNeverIngestsSourceWithoutConnectorURL(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	e, err := Open(ctx, "")
	require.NoError(t, err)
	defer e.Close()

	raw := strings.Replace(string(schemaFor(srv.URL, "")), "    connector_url: "+srv.URL+"\n", "", 1)
	_, err = e.RegisterSchema(ctx, []byte(raw))
	require.ErrorIs(t, err, schema.ErrSchemaValidation)
	assert.Contains(t, err.Error(), "connector_url")

	_, err = e.Ingest(ctx, "library", "docs")
	assert.Error(t, err)

	runs, err := e.Runs(ctx, "library")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, hits.Load())
}

func TestEnginePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	srv := docServer(t)
	dir := t.TempDir()

	e, err := Open(ctx, dir)
	require.NoError(t, err)
	_, err = e.RegisterSchema(ctx, schemaFor(srv.URL, ""))
	require.NoError(t, err)
	run, err := e.Ingest(ctx, "library", "docs")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = Open(ctx, dir)
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.Schema("library")
	assert.True(t, ok)

	runs, err := e.Runs(ctx, "library")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	again, err := e.Ingest(ctx, "library", "docs")
	require.NoError(t, err)
	assert.Zero(t, again.NodesCreated)
	assert.Zero(t, again.RelationshipsCreated)

	removed, err := e.UnregisterSchema(ctx, "library")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = e.Ingest(ctx, "library", "docs")
	assert.Error(t, err)
}

func TestEngineEmbeddingProvider(t *testing.T) {
	ctx := context.Background()
	srv := docServer(t)
	provider := mock.NewMockProvider(mock.NewMockEmbedder())

	e, err := Open(ctx, "", WithEmbeddingProvider(provider))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.RegisterSchema(ctx, schemaFor(srv.URL, `embedding_config: {enabled: true, model: tiny, text_path: $.title}`))
	require.NoError(t, err)
	run, err := e.Ingest(ctx, "library", "docs")
	require.NoError(t, err)
	assert.Empty(t, run.Errors)
	assert.Equal(t, []string{"tiny"}, provider.Models())
	assert.Equal(t, 1, provider.MockEmbedder().CallCount())
}
