package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/schemagraph/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	summary, err := r.Register(ctx, []byte(exampleSchema))
	require.NoError(t, err)
	assert.Equal(t, Summary{
		KBID:          "docs",
		Nodes:         []string{"Document", "Author"},
		Relationships: []string{"AUTHORED_BY"},
		Sources:       []string{"confluence"},
	}, summary)

	s, ok := r.Get("docs")
	require.True(t, ok)
	assert.False(t, s.RegisteredAt.IsZero())
	assert.Equal(t, []string{"docs"}, r.KBIDs())
}

func TestRegistryRejectsInvalidWithoutChange(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	_, err := r.Register(ctx, []byte(exampleSchema))
	require.NoError(t, err)
	before, _ := r.Get("docs")

	bad := strings.Replace(exampleSchema, "target_label: Document", "target_label: Nope", 1)
	_, err = r.Register(ctx, []byte(bad))
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.NotEmpty(t, verrs)

	after, _ := r.Get("docs")
	assert.Same(t, before, after)
}

func TestRegistryReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	_, err := r.Register(ctx, []byte(exampleSchema))
	require.NoError(t, err)
	first, _ := r.Get("docs")

	updated := strings.Replace(exampleSchema, "source_id: confluence", "source_id: wiki", 1)
	_, err = r.Register(ctx, []byte(updated))
	require.NoError(t, err)

	second, _ := r.Get("docs")
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"wiki"}, second.SourceIDs())
	assert.Equal(t, []string{"confluence"}, first.SourceIDs(), "old schema is never mutated")
}

func TestRegistryConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	_, err := r.Register(ctx, []byte(exampleSchema))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := r.Register(ctx, []byte(exampleSchema))
				assert.NoError(t, err)
				return
			}
			s, ok := r.Get("docs")
			if assert.True(t, ok) {
				assert.Len(t, s.SourceMappings, 1)
			}
		}(i)
	}
	wg.Wait()
}

func TestRegistryPersistence(t *testing.T) {
	ctx := context.Background()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()

	r := NewRegistry(WithRepository(stores.Schemas))
	_, err = r.Register(ctx, []byte(exampleSchema))
	require.NoError(t, err)

	restored := NewRegistry(WithRepository(stores.Schemas))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := restored.Get("docs")
	assert.True(t, ok)

	removed, err := restored.Unregister(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err = NewRegistry(WithRepository(stores.Schemas)).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = NewRegistry().Restore(ctx)
	assert.ErrorIs(t, err, ErrRepositoryRequired)
}

func TestRegistryConcurrentRegisterKeepsRepositoryInSync(t *testing.T) {
	ctx := context.Background()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()

	r := NewRegistry(WithRepository(stores.Schemas))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := strings.Replace(exampleSchema, "http://connector.local/pages",
				fmt.Sprintf("http://connector.local/v%d", i), 1)
			_, err := r.Register(ctx, []byte(raw))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	live, ok := r.Get("docs")
	require.True(t, ok)

	restored := NewRegistry(WithRepository(stores.Schemas))
	_, err = restored.Restore(ctx)
	require.NoError(t, err)
	persisted, ok := restored.Get("docs")
	require.True(t, ok)
	assert.Equal(t, live.SourceMappings[0].ConnectorURL, persisted.SourceMappings[0].ConnectorURL)
}
