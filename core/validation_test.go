package core

import (
	"errors"
	"testing"
)

func TestValidateNode(t *testing.T) {
	valid := func() *Node {
		return &Node{
			KBID:        "kb",
			Label:       "Document",
			KeyProperty: "id",
			Key:         "d1",
			Properties:  map[string]Value{"title": String("T")},
		}
	}

	tests := []struct {
		name    string
		mutate  func(n *Node) *Node
		wantErr error
	}{
		{
			name:    "valid node",
			mutate:  func(n *Node) *Node { return n },
			wantErr: nil,
		},
		{
			name:    "nil node",
			mutate:  func(n *Node) *Node { return nil },
			wantErr: ErrInvalidNode,
		},
		{
			name:    "empty kb",
			mutate:  func(n *Node) *Node { n.KBID = ""; return n },
			wantErr: ErrEmptyKBID,
		},
		{
			name:    "label with space",
			mutate:  func(n *Node) *Node { n.Label = "Bad Label"; return n },
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "label with backtick",
			mutate:  func(n *Node) *Node { n.Label = "Doc`ument"; return n },
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "empty key",
			mutate:  func(n *Node) *Node { n.Key = ""; return n },
			wantErr: ErrEmptyKey,
		},
		{
			name: "bad property name",
			mutate: func(n *Node) *Node {
				n.Properties["1st"] = Bool(true)
				return n
			},
			wantErr: ErrInvalidIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNode(tt.mutate(valid()))

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateNode() error = %v, want nil", err)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateNode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelationship(t *testing.T) {
	tests := []struct {
		name    string
		rel     *Relationship
		wantErr error
	}{
		{
			name: "valid relationship",
			rel: &Relationship{
				KBID: "kb", Type: "AUTHORED_BY",
				FromLabel: "Document", FromKey: "d1",
				ToLabel: "Author", ToKey: "a@x.com",
			},
		},
		{
			name:    "nil relationship",
			wantErr: ErrInvalidRelationship,
		},
		{
			name: "missing endpoint key",
			rel: &Relationship{
				KBID: "kb", Type: "AUTHORED_BY",
				FromLabel: "Document", FromKey: "d1",
				ToLabel: "Author",
			},
			wantErr: ErrEmptyKey,
		},
		{
			name: "bad type",
			rel: &Relationship{
				KBID: "kb", Type: "AUTHORED-BY",
				FromLabel: "Document", FromKey: "d1",
				ToLabel: "Author", ToKey: "a",
			},
			wantErr: ErrInvalidIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelationship(tt.rel)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRelationship() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRelationship() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunPending, RunRunning, RunCompleted, RunFailed} {
		if err := ValidateRunStatus(s); err != nil {
			t.Errorf("ValidateRunStatus(%v) error = %v", s, err)
		}
	}
	if err := ValidateRunStatus(RunStatus(0)); !errors.Is(err, ErrInvalidRunStatus) {
		t.Errorf("ValidateRunStatus(0) error = %v, want %v", err, ErrInvalidRunStatus)
	}
}
