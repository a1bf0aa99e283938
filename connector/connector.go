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

// Package connector pulls source documents from connector endpoints.
//
// A connector is addressed by URL. http and https URLs are fetched with
// GET <url>?since=<cursor>; the response body is either a bare JSON array of
// documents or an object whose "data" member is that array, optionally
// carrying the next cursor in "next_cursor", "cursor" or "next". file URLs
// name a local directory of *.json files, each holding one document or an
// array of documents.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/poiesic/schemagraph/core"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Page is one batch of documents returned by a pull.
// NextCursor is empty when the connector reported none.
type Page struct {
	Documents  []core.Value
	NextCursor string
}

// Puller fetches documents newer than a cursor. An empty since requests
// everything.
type Puller interface {
	Pull(ctx context.Context, since string) (*Page, error)
}

type options struct {
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client
	pageSize    int
	logger      *slog.Logger
}

// Option configures a Puller.
type Option func(*options) error

// WithTimeout bounds each pull attempt.
// Default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		o.timeout = d
		return nil
	}
}

// WithRetry sets the number of attempts per pull and the initial backoff delay.
// Default is 3 attempts starting at 500ms.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *options) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		o.maxAttempts = maxAttempts
		o.baseDelay = baseDelay
		return nil
	}
}

// WithHTTPClient sets the client used for http connectors.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) error {
		if client != nil {
			o.client = client
		}
		return nil
	}
}

// WithPageSize limits how many documents a file connector returns per pull.
// Zero returns everything at once.
func WithPageSize(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("page size must not be negative, got %d", n)
		}
		o.pageSize = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// Open returns a Puller for a connector URL.
func Open(rawURL string, opts ...Option) (Puller, error) {
	o := options{
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		client:      http.DefaultClient,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedScheme, err)
	}
	o.logger = o.logger.With("component", "connector", "url", rawURL)

	switch u.Scheme {
	case "http", "https":
		return &HTTPPuller{url: u, opts: o}, nil
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + u.Path
		}
		return &DirPuller{dir: dir, opts: o}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// pull runs fetch under the retry policy, bounding each attempt by the timeout.
func (o *options) pull(ctx context.Context, fetch func(ctx context.Context) (*Page, error)) (*Page, error) {
	var page *Page
	err := RetryWithBackoff(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		var err error
		page, err = fetch(attemptCtx)
		return err
	}, o.maxAttempts, o.baseDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return page, nil
}

// decodePage interprets a connector response body.
func decodePage(body []byte) (*Page, error) {
	doc, err := core.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if items, ok := doc.AsArray(); ok {
		return &Page{Documents: items}, nil
	}
	if _, ok := doc.AsObject(); !ok {
		return nil, fmt.Errorf("%w: expected array or object, got %s", ErrInvalidResponse, doc.Kind())
	}

	page := &Page{}
	if data, ok := doc.Field("data"); ok && !data.IsNull() {
		items, ok := data.AsArray()
		if !ok {
			return nil, fmt.Errorf("%w: data must be an array, got %s", ErrInvalidResponse, data.Kind())
		}
		page.Documents = items
	}
	for _, name := range []string{"next_cursor", "cursor", "next"} {
		if v, ok := doc.Field(name); ok {
			if cursor, ok := v.KeyString(); ok && v.Kind() != core.KindBool {
				page.NextCursor = cursor
				break
			}
		}
	}
	return page, nil
}
