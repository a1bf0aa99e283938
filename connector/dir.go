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

package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/schemagraph/core"
)

// DirPuller reads documents from *.json files in a local directory.
// Files are visited in name order and the cursor is the name of the last
// file returned, so a pull resumes after it.
type DirPuller struct {
	dir  string
	opts options
}

var _ Puller = (*DirPuller)(nil)

// Pull returns the documents of files named after since. Files that do not
// hold valid JSON are logged and skipped.
func (p *DirPuller) Pull(ctx context.Context, since string) (*Page, error) {
	return p.opts.pull(ctx, func(ctx context.Context) (*Page, error) {
		return p.read(ctx, since)
	})
}

func (p *DirPuller) read(ctx context.Context, since string) (*Page, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, Permanent(err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		if since != "" && name <= since {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	page := &Page{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.opts.pageSize > 0 && len(page.Documents) >= p.opts.pageSize {
			break
		}
		page.NextCursor = name

		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		doc, err := core.ParseJSON(data)
		if err != nil {
			p.opts.logger.Warn("skipping invalid document file", "file", name, "err", err)
			continue
		}
		if items, ok := doc.AsArray(); ok {
			page.Documents = append(page.Documents, items...)
		} else {
			page.Documents = append(page.Documents, doc)
		}
	}

	p.opts.logger.Debug("read directory page", "since", since, "files", len(names), "documents", len(page.Documents))
	return page, nil
}
