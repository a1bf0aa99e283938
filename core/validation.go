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

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether name can be used as a label, relationship type or property name.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidateIdentifier returns ErrInvalidIdentifier if name is not a usable identifier.
func ValidateIdentifier(name string) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateNode validates a Node before it is written.
func ValidateNode(node *Node) error {
	if node == nil {
		return fmt.Errorf("%w: node is nil", ErrInvalidNode)
	}
	if node.KBID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidNode, ErrEmptyKBID)
	}
	if err := ValidateIdentifier(node.Label); err != nil {
		return fmt.Errorf("%w: label: %w", ErrInvalidNode, err)
	}
	if err := ValidateIdentifier(node.KeyProperty); err != nil {
		return fmt.Errorf("%w: key property: %w", ErrInvalidNode, err)
	}
	if node.Key == "" {
		return fmt.Errorf("%w: %w", ErrInvalidNode, ErrEmptyKey)
	}
	for name := range node.Properties {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: property: %w", ErrInvalidNode, err)
		}
	}
	return nil
}

// ValidateRelationship validates a Relationship before it is written.
func ValidateRelationship(rel *Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is nil", ErrInvalidRelationship)
	}
	if rel.KBID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrEmptyKBID)
	}
	for _, name := range []string{rel.Type, rel.FromLabel, rel.ToLabel} {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRelationship, err)
		}
	}
	if rel.FromKey == "" || rel.ToKey == "" {
		return fmt.Errorf("%w: endpoint %w", ErrInvalidRelationship, ErrEmptyKey)
	}
	for name := range rel.Properties {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: property: %w", ErrInvalidRelationship, err)
		}
	}
	return nil
}

// ValidateRunStatus returns ErrInvalidRunStatus for unknown statuses.
func ValidateRunStatus(status RunStatus) error {
	switch status {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRunStatus, status)
	}
}
