package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFromContent(t *testing.T) {
	assert.Equal(t, IDFromContent("hello"), IDFromContent("hello"))
	assert.NotEqual(t, IDFromContent("hello"), IDFromContent("world"))
}

func TestNodeIDSeparatesComponents(t *testing.T) {
	assert.NotEqual(t, NodeID("kb", "AB", "c"), NodeID("kb", "A", "Bc"))
	n := &Node{KBID: "kb", Label: "Document", Key: "d1"}
	assert.Equal(t, NodeID("kb", "Document", "d1"), n.ID())
}

func TestSchemaLookups(t *testing.T) {
	s := &Schema{
		KBID: "kb",
		NodeTypes: []NodeType{
			{Label: "Document", KeyProperty: "id", DeclaredProperties: []string{"title"}},
			{Label: "Author", KeyProperty: "email"},
		},
		RelationshipTypes: []RelationshipType{{Type: "AUTHORED_BY", From: "Document", To: "Author"}},
		SourceMappings:    []SourceMapping{{SourceID: "docs"}, {SourceID: "wiki"}},
	}

	nt, ok := s.NodeType("Document")
	assert.True(t, ok)
	assert.True(t, nt.Declares("title"))
	assert.True(t, nt.Declares("id"))
	assert.False(t, nt.Declares("body"))

	author, _ := s.NodeType("Author")
	assert.True(t, author.Declares("anything"))

	_, ok = s.NodeType("Missing")
	assert.False(t, ok)

	rt, ok := s.RelationshipType("AUTHORED_BY")
	assert.True(t, ok)
	assert.Equal(t, "Author", rt.To)

	_, ok = s.SourceMapping("wiki")
	assert.True(t, ok)
	assert.Equal(t, []string{"Document", "Author"}, s.Labels())
	assert.Equal(t, []string{"docs", "wiki"}, s.SourceIDs())
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, "running", RunRunning.String())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())

	text, err := RunCompleted.MarshalText()
	assert.NoError(t, err)
	var s RunStatus
	assert.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, RunCompleted, s)
	assert.ErrorIs(t, s.UnmarshalText([]byte("done")), ErrInvalidRunStatus)
}

func TestRunClone(t *testing.T) {
	r := &Run{ID: "r1", Errors: []ErrorRecord{{Kind: ErrorKindGraphWrite}}}
	c := r.Clone()
	c.Errors[0].Kind = ErrorKindTimeout
	assert.Equal(t, ErrorKindGraphWrite, r.Errors[0].Kind)

	var nilRun *Run
	assert.Nil(t, nilRun.Clone())
}
