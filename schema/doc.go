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

// Package schema parses, validates and registers knowledge base schemas.
//
// A schema definition is a YAML (or JSON) document declaring node types,
// relationship types and the source mappings that turn connector documents
// into graph records:
//
//	kb_id: docs
//	node_types:
//	  - label: Document
//	    key_property: id
//	  - label: Author
//	    key_property: email
//	relationship_types:
//	  - type: AUTHORED_BY
//	    from: Document
//	    to: Author
//	source_mappings:
//	  - source_id: confluence
//	    connector_url: http://connector:8080/pages
//	    node_extraction:
//	      target_label: Document
//	      property_assignments:
//	        id: $.id
//	        title: $.title
//	    edge_extractions:
//	      - relationship_type: AUTHORED_BY
//	        from: {label: Document, key_path: $.id}
//	        to:
//	          label: Author
//	          key_path: $.author.email
//	          create_if_missing: true
//	          property_assignments:
//	            name: $.author.name
//
// Validation is whole-or-nothing: Validate either returns a compiled
// core.Schema or a non-empty ValidationErrors list. The Registry holds the
// current schema of every knowledge base and swaps them atomically.
package schema
