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
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Definition is the submitted, unvalidated form of a schema.
type Definition struct {
	KBID              string                       `yaml:"kb_id"`
	EmbeddingConfig   *EmbeddingDefinition         `yaml:"embedding_config,omitempty"`
	NodeTypes         []NodeTypeDefinition         `yaml:"node_types"`
	RelationshipTypes []RelationshipTypeDefinition `yaml:"relationship_types,omitempty"`
	SourceMappings    []SourceMappingDefinition    `yaml:"source_mappings"`
}

// EmbeddingDefinition configures document embedding for a knowledge base.
type EmbeddingDefinition struct {
	Enabled        bool   `yaml:"enabled"`
	Model          string `yaml:"model,omitempty"`
	TextPath       string `yaml:"text_path,omitempty"`
	TargetProperty string `yaml:"target_property,omitempty"`
}

type NodeTypeDefinition struct {
	Label              string   `yaml:"label"`
	KeyProperty        string   `yaml:"key_property"`
	DeclaredProperties []string `yaml:"declared_properties,omitempty"`
}

type RelationshipTypeDefinition struct {
	Type string `yaml:"type"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type SourceMappingDefinition struct {
	SourceID        string                     `yaml:"source_id"`
	ConnectorURL    string                     `yaml:"connector_url"`
	DocumentType    string                     `yaml:"document_type,omitempty"`
	NodeExtraction  *NodeExtractionDefinition  `yaml:"node_extraction"`
	EdgeExtractions []EdgeExtractionDefinition `yaml:"edge_extractions,omitempty"`
}

type NodeExtractionDefinition struct {
	TargetLabel         string            `yaml:"target_label"`
	PropertyAssignments map[string]string `yaml:"property_assignments"`
}

type EdgeExtractionDefinition struct {
	RelationshipType    string             `yaml:"relationship_type"`
	From                EndpointDefinition `yaml:"from"`
	To                  EndpointDefinition `yaml:"to"`
	PropertyAssignments map[string]string  `yaml:"property_assignments,omitempty"`
}

type EndpointDefinition struct {
	Label               string            `yaml:"label"`
	KeyPath             string            `yaml:"key_path"`
	CreateIfMissing     bool              `yaml:"create_if_missing,omitempty"`
	PropertyAssignments map[string]string `yaml:"property_assignments,omitempty"`
}

// Parse decodes a YAML or JSON schema definition. Unknown fields are rejected
// so that misspelled keys do not silently drop configuration.
func Parse(raw []byte) (*Definition, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ValidationErrors{{Message: "empty schema definition"}}
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidationErrors{{Message: "empty schema definition"}}
		}
		return nil, ValidationErrors{{
			Message:    fmt.Sprintf("malformed definition: %v", err),
			Suggestion: "definitions are YAML or JSON documents",
		}}
	}
	return &def, nil
}

// Marshal renders a definition back to YAML.
func Marshal(def *Definition) ([]byte, error) {
	return yaml.Marshal(def)
}
