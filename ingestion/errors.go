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

package ingestion

import "errors"

var (
	// ErrResolverRequired is returned when a connector resolver is not provided.
	ErrResolverRequired = errors.New("connector resolver required")

	// ErrWriterRequired is returned when a merge writer is not provided.
	ErrWriterRequired = errors.New("merge writer required")

	// ErrTrackerRequired is returned when a run tracker is not provided.
	ErrTrackerRequired = errors.New("run tracker required")

	// ErrRunInProgress is returned when a run is already active for the same
	// knowledge base and source.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrRunCancelled is the cancellation cause set by Cancel.
	ErrRunCancelled = errors.New("run cancelled")
)
