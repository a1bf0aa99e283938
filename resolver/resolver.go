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

// Package resolver maps a (knowledge base, source) pair to the connector
// endpoint and mapping rules that ingest it. Resolution reads the registry on
// every call, so a re-registered schema takes effect for the next run.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/schemagraph/core"
)

var (
	// ErrSchemaNotRegistered indicates no schema is registered for the knowledge base.
	ErrSchemaNotRegistered = errors.New("schema not registered")

	// ErrSourceNotMapped indicates the schema has no mapping for the source.
	ErrSourceNotMapped = errors.New("source not mapped")
)

// SchemaSource is the read side of the schema registry.
type SchemaSource interface {
	Get(kbID string) (*core.Schema, bool)
	KBIDs() []string
}

// Connector is everything needed to pull and map one source.
type Connector struct {
	URL          string
	DocumentType string
	Mapping      *core.SourceMapping
	Schema       *core.Schema
}

// Resolver resolves connectors against a schema source.
type Resolver struct {
	schemas SchemaSource
}

// New creates a Resolver reading from schemas.
func New(schemas SchemaSource) *Resolver {
	return &Resolver{schemas: schemas}
}

// Resolve returns the connector of a source. Errors wrap
// ErrSchemaNotRegistered or ErrSourceNotMapped and list the known
// alternatives.
func (r *Resolver) Resolve(kbID, sourceID string) (Connector, error) {
	s, ok := r.schemas.Get(kbID)
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q (registered: %s)", ErrSchemaNotRegistered, kbID, list(r.schemas.KBIDs()))
	}
	sm, ok := s.SourceMapping(sourceID)
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q in %q (mapped sources: %s)", ErrSourceNotMapped, sourceID, kbID, list(s.SourceIDs()))
	}
	return Connector{
		URL:          sm.ConnectorURL,
		DocumentType: sm.DocumentType,
		Mapping:      sm,
		Schema:       s,
	}, nil
}

// Kind classifies a resolution error.
func Kind(err error) core.ErrorKind {
	switch {
	case errors.Is(err, ErrSchemaNotRegistered):
		return core.ErrorKindSchemaNotRegistered
	case errors.Is(err, ErrSourceNotMapped):
		return core.ErrorKindSourceNotMapped
	default:
		return ""
	}
}

func list(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
