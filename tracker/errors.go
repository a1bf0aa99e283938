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

package tracker

import "errors"

var (
	// ErrRunRepositoryRequired is returned when a run repository is not provided.
	ErrRunRepositoryRequired = errors.New("run repository required")

	// ErrCursorRepositoryRequired is returned when a cursor repository is not provided.
	ErrCursorRepositoryRequired = errors.New("cursor repository required")

	// ErrGraphStoreRequired is returned when a graph store is not provided.
	ErrGraphStoreRequired = errors.New("graph store required")

	// ErrSourceRequired is returned when a run is started without a source id.
	ErrSourceRequired = errors.New("source id required")

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinalized is returned when a run has already reached a terminal status.
	ErrRunFinalized = errors.New("run already finalized")

	// ErrInvalidTransition is returned for a status change the run lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid run status transition")
)
