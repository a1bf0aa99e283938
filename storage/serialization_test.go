package storage

import (
	"testing"
	"time"

	"github.com/poiesic/schemagraph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeSerializationPreservesValues(t *testing.T) {
	props, err := core.ParseJSON([]byte(`{"title":"T","views":12345678901234567890,"score":0.25,"tags":["a",null,true],"meta":{"k":"v"}}`))
	require.NoError(t, err)
	obj, _ := props.AsObject()

	now := time.Now().UTC().Truncate(time.Microsecond)
	node := &core.Node{
		KBID:        "kb",
		Label:       "Document",
		KeyProperty: "id",
		Key:         "d1",
		Properties:  obj,
		SourceID:    "docs",
		RunID:       "run-1",
		CreatedAt:   now,
	}

	decoded, err := UnmarshalNode(MarshalNode(node))
	require.NoError(t, err)
	assert.Equal(t, node.KBID, decoded.KBID)
	assert.Equal(t, node.Key, decoded.Key)
	assert.Equal(t, node.RunID, decoded.RunID)
	assert.True(t, now.Equal(decoded.CreatedAt))
	assert.True(t, decoded.UpdatedAt.IsZero())
	assert.True(t, core.Object(decoded.Properties).Equal(props))

	views := decoded.Properties["views"]
	lit, _ := views.KeyString()
	assert.Equal(t, "12345678901234567890", lit)
}

func TestRunSerialization(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &core.Run{
		ID:                   "r1",
		KBID:                 "kb",
		SourceID:             "docs",
		StartedAt:            started,
		CompletedAt:          started.Add(time.Minute),
		Status:               core.RunCompleted,
		DocumentsProcessed:   10,
		NodesCreated:         7,
		RelationshipsCreated: 3,
		Errors: []core.ErrorRecord{{
			Kind:        core.ErrorKindExtractionSkipped,
			Message:     "key absent",
			Document:    4,
			DocumentKey: "",
			Path:        "$.id",
			At:          started,
		}},
		Cursor: "c-42",
	}

	decoded, err := UnmarshalRun(MarshalRun(run))
	require.NoError(t, err)
	assert.Equal(t, run, decoded)
}

func TestRunSerializationWithoutErrors(t *testing.T) {
	run := &core.Run{ID: "r1", Status: core.RunPending}
	decoded, err := UnmarshalRun(MarshalRun(run))
	require.NoError(t, err)
	assert.Nil(t, decoded.Errors)
	assert.True(t, decoded.StartedAt.IsZero())
}

func TestUnmarshalTruncated(t *testing.T) {
	rel := &core.Relationship{
		KBID: "kb", Type: "AUTHORED_BY",
		FromLabel: "Document", FromKey: "d1",
		ToLabel: "Author", ToKey: "a@x.com",
		Properties: map[string]core.Value{"role": core.String("primary")},
	}
	data := MarshalRelationship(rel)

	decoded, err := UnmarshalRelationship(data)
	require.NoError(t, err)
	assert.Equal(t, rel.ToKey, decoded.ToKey)

	_, err = UnmarshalRelationship(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalNode(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
