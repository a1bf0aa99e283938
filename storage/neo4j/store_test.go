package neo4j

import (
	"context"
	"fmt"
	"testing"
	"time"

	driver "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the server named by NEO4J_URI, skipping otherwise.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg, ok := ConfigFromEnv()
	if !ok {
		t.Skip("NEO4J_URI not set")
	}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMergeIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	kb := fmt.Sprintf("test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		session := s.session(context.Background(), driver.AccessModeWrite)
		defer session.Close(context.Background())
		_, _ = session.Run(context.Background(), "MATCH (n {kb_id: $kb_id}) DETACH DELETE n", map[string]any{"kb_id": kb})
	})

	require.NoError(t, s.EnsureSchema(ctx, kb, []core.NodeType{
		{Label: "Document", KeyProperty: "id"},
		{Label: "Author", KeyProperty: "email"},
	}))

	doc := &core.Node{KBID: kb, Label: "Document", KeyProperty: "id", Key: "d1",
		Properties: map[string]core.Value{"title": core.String("T")}, SourceID: "docs", RunID: "r1"}
	author := &core.Node{KBID: kb, Label: "Author", KeyProperty: "email", Key: "a@x",
		Properties: map[string]core.Value{"name": core.String("A")}, SourceID: "docs", RunID: "r1"}
	rel := &core.Relationship{KBID: kb, Type: "AUTHORED_BY", FromLabel: "Document", FromKey: "d1",
		ToLabel: "Author", ToKey: "a@x", SourceID: "docs", RunID: "r1"}

	missing, err := s.MergeRelationship(ctx, rel)
	assert.ErrorIs(t, err, storage.ErrEndpointMissing)
	assert.False(t, missing)

	for _, n := range []*core.Node{doc, author} {
		created, err := s.MergeNode(ctx, n)
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := s.MergeRelationship(ctx, rel)
	require.NoError(t, err)
	assert.True(t, created)

	doc.RunID = "r2"
	created, err = s.MergeNode(ctx, doc)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetNode(ctx, kb, storage.NodeKey{Label: "Document", Key: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	assert.True(t, got.Properties["title"].Equal(core.String("T")))

	nodes, err := s.CountNodes(ctx, kb)
	require.NoError(t, err)
	assert.Equal(t, int64(2), nodes)
	rels, err := s.CountRelationships(ctx, kb)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rels)

	found, err := s.FindNodes(ctx, kb, "", nil, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Author", found[0].Label)

	rows, err := s.Query(ctx, kb, "MATCH (d:Document {kb_id: $kb_id})-[:AUTHORED_BY]->(a) RETURN a.name AS name", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["name"])
}
