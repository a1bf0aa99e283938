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

// Package ingestion runs ingestion for one (knowledge base, source) pair at a time.
//
// A Pipeline resolves the source's connector, opens a run, pulls pages of
// documents starting from the stored cursor, and processes every document
// on a bounded worker pool:
//   - map the document to nodes and relationships
//   - optionally embed the document text onto its primary node
//   - merge the records into the graph store
//   - record counts and errors on the run
//
// In-run errors are recorded on the run and never returned from Ingest; only
// resolution failures and a concurrent run for the same pair are returned as
// errors. A run can be stopped through its context or with Cancel.
package ingestion
