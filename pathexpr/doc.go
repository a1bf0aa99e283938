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

// Package pathexpr evaluates JSONPath-like expressions over core.Value documents.
//
// Supported syntax:
//
//	$                 the document root (optional prefix)
//	.name             object member
//	['name']          object member, quoted (single or double quotes)
//	[3], [-1]         array element, negative indexes count from the end
//	[*], .*           every element of an array (or member of an object)
//
// Evaluation never fails: a path that does not resolve reports absence
// through the boolean result.
package pathexpr
