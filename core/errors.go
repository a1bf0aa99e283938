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


package core

import "errors"

var (
	// ErrInvalidIdentifier indicates a label, type or property name that cannot be used in the graph.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidNode indicates a Node failed validation.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidRelationship indicates a Relationship failed validation.
	ErrInvalidRelationship = errors.New("invalid relationship")

	// ErrEmptyKey indicates a node key that is missing or not a scalar.
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrEmptyKBID indicates the knowledge base id is empty.
	ErrEmptyKBID = errors.New("knowledge base id cannot be empty")

	// ErrInvalidRunStatus indicates an unknown RunStatus value.
	ErrInvalidRunStatus = errors.New("invalid run status")
)
