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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaValidation is matched by every ValidationErrors value.
	ErrSchemaValidation = errors.New("schema validation failed")

	// ErrRepositoryRequired is returned when persistence is requested without a repository.
	ErrRepositoryRequired = errors.New("schema repository required")
)

// ValidationError describes one problem in a schema definition.
// Path locates the offending field, for example
// "source_mappings[0].node_extraction.target_label".
type ValidationError struct {
	Message    string `json:"message"`
	Path       string `json:"path"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		b.WriteString(" (")
		b.WriteString(e.Suggestion)
		b.WriteString(")")
	}
	return b.String()
}

// ValidationErrors is the full list of problems found in a definition.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return fmt.Sprintf("%s: %s", ErrSchemaValidation, v[0])
	}
	lines := make([]string, len(v))
	for i, e := range v {
		lines[i] = "  - " + e.String()
	}
	return fmt.Sprintf("%s: %d problems\n%s", ErrSchemaValidation, len(v), strings.Join(lines, "\n"))
}

func (v ValidationErrors) Unwrap() error {
	return ErrSchemaValidation
}
