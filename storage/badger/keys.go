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

package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// Key prefixes for different data types
const (
	nodePrefix      = "gnode:"
	relPrefix       = "grel:"
	runPrefix       = "run:"
	runKBPrefix     = "runkb:"
	cursorPrefix    = "cursor:"
	schemaPrefix    = "schema:"
	keySeparator    = '\x00'
	runIndexTSBytes = 8
)

func joinKey(prefix string, parts ...string) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, keySeparator)
		}
		buf = append(buf, p...)
	}
	return buf
}

// makeKBNodePrefix generates the prefix shared by every node of a knowledge base.
// Format: prefix:kb\x00
func makeKBNodePrefix(kbID string) []byte {
	return append(joinKey(nodePrefix, kbID), keySeparator)
}

// makeLabelNodePrefix generates the prefix shared by every node of a label.
// Format: prefix:kb\x00label\x00
func makeLabelNodePrefix(kbID, label string) []byte {
	return append(joinKey(nodePrefix, kbID, label), keySeparator)
}

// makeNodeKey generates a key for a node by natural identity.
// Format: prefix:kb\x00label\x00key
func makeNodeKey(kbID string, key storage.NodeKey) []byte {
	return joinKey(nodePrefix, kbID, key.Label, key.Key)
}

// makeKBRelPrefix generates the prefix shared by every relationship of a knowledge base.
func makeKBRelPrefix(kbID string) []byte {
	return append(joinKey(relPrefix, kbID), keySeparator)
}

// makeRelKey generates a key for a relationship. Endpoint keys are arbitrary
// document values, so the identity is folded into its content hash.
// Format: prefix:kb\x00<8 byte relationship id>
func makeRelKey(kbID string, id core.ID) []byte {
	buf := makeKBRelPrefix(kbID)
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makeRunKey generates a key for a run by ID.
func makeRunKey(runID string) []byte {
	return joinKey(runPrefix, runID)
}

// makeRunKBPrefix generates the prefix of the per-kb run index.
func makeRunKBPrefix(kbID string) []byte {
	return append(joinKey(runKBPrefix, kbID), keySeparator)
}

// makeRunKBKey generates a composite key for the per-kb run index.
// Format: prefix:kb\x00<8 byte start time>runID
func makeRunKBKey(kbID string, startedAt time.Time, runID string) []byte {
	buf := makeRunKBPrefix(kbID)
	// BigEndian so lexicographic order follows start time
	buf = binary.BigEndian.AppendUint64(buf, uint64(startedAt.UnixMicro()))
	return append(buf, runID...)
}

// runIDFromKBKey extracts the run id from a per-kb index key.
func runIDFromKBKey(kbID string, key []byte) string {
	offset := len(makeRunKBPrefix(kbID)) + runIndexTSBytes
	if len(key) < offset {
		return ""
	}
	return string(key[offset:])
}

// makeCursorKey generates a key for the cursor of a (kb, source) pair.
func makeCursorKey(kbID, sourceID string) []byte {
	return joinKey(cursorPrefix, kbID, sourceID)
}

// makeSchemaKey generates a key for a raw schema definition.
func makeSchemaKey(kbID string) []byte {
	return joinKey(schemaPrefix, kbID)
}
