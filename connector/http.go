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
	"io"
	"net/http"
	"net/url"
)

var maxBodySize int64 = 64 << 20

// HTTPPuller pulls documents from an http or https connector.
type HTTPPuller struct {
	url  *url.URL
	opts options
}

var _ Puller = (*HTTPPuller)(nil)

// Pull issues GET <url>?since=<cursor>. Server errors and transport failures
// are retried; client errors are not.
func (p *HTTPPuller) Pull(ctx context.Context, since string) (*Page, error) {
	target := *p.url
	if since != "" {
		q := target.Query()
		q.Set("since", since)
		target.RawQuery = q.Encode()
	}

	page, err := p.opts.pull(ctx, func(ctx context.Context) (*Page, error) {
		return p.fetch(ctx, target.String())
	})
	if err != nil {
		return nil, err
	}
	p.opts.logger.Debug("pulled page", "since", since, "documents", len(page.Documents), "next_cursor", page.NextCursor)
	return page, nil
}

func (p *HTTPPuller) fetch(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.opts.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}
	if int64(len(body)) > maxBodySize {
		return nil, Permanent(fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxBodySize))
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, Permanent(err)
	}
	return page, nil
}
