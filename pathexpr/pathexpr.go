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

package pathexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/schemagraph/core"
)

// ErrSyntax is returned by Compile for malformed expressions.
var ErrSyntax = errors.New("invalid path expression")

type segmentKind int

const (
	segField segmentKind = iota
	segIndex
	segWildcard
)

type segment struct {
	kind  segmentKind
	name  string
	index int
}

// Expr is a compiled path expression. It is safe for concurrent use.
type Expr struct {
	source   string
	segments []segment
}

var _ core.Evaluator = (*Expr)(nil)

// Compile parses a path expression.
func Compile(source string) (*Expr, error) {
	p := &parser{src: source}
	segs, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Expr{source: source, segments: segs}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Expr {
	e, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text of the expression.
func (e *Expr) String() string { return e.source }

// IsRoot reports whether the expression selects the whole document.
func (e *Expr) IsRoot() bool { return len(e.segments) == 0 }

// Evaluate resolves the expression against doc.
func (e *Expr) Evaluate(doc core.Value) (core.Value, bool) {
	return eval(doc, e.segments)
}

func eval(v core.Value, segs []segment) (core.Value, bool) {
	for i, seg := range segs {
		switch seg.kind {
		case segField:
			next, ok := v.Field(seg.name)
			if !ok {
				return core.Value{}, false
			}
			v = next
		case segIndex:
			next, ok := v.Index(seg.index)
			if !ok {
				return core.Value{}, false
			}
			v = next
		case segWildcard:
			return project(v, segs[i+1:])
		}
	}
	return v, true
}

// project applies the remaining segments to every child of v and gathers
// the results that resolve.
func project(v core.Value, rest []segment) (core.Value, bool) {
	var children []core.Value
	switch v.Kind() {
	case core.KindArray:
		children, _ = v.AsArray()
	case core.KindObject:
		obj, _ := v.AsObject()
		for _, k := range v.Keys() {
			children = append(children, obj[k])
		}
	default:
		return core.Value{}, false
	}

	out := make([]core.Value, 0, len(children))
	for _, child := range children {
		if r, ok := eval(child, rest); ok {
			out = append(out, r)
		}
	}
	return core.Array(out...), true
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w %q at offset %d: %s", ErrSyntax, p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parse() ([]segment, error) {
	src := strings.TrimSpace(p.src)
	p.src = src
	if src == "" {
		return nil, p.errorf("empty expression")
	}

	var segs []segment
	if src[0] == '$' {
		p.pos = 1
	} else {
		// A bare leading name, as in "author.email".
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		segs = append(segs, fieldOrWildcard(name))
	}

	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '.':
			p.pos++
			name, err := p.name()
			if err != nil {
				return nil, err
			}
			segs = append(segs, fieldOrWildcard(name))
		case '[':
			seg, err := p.bracket()
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			return nil, p.errorf("unexpected %q", p.src[p.pos])
		}
	}
	return segs, nil
}

func fieldOrWildcard(name string) segment {
	if name == "*" {
		return segment{kind: segWildcard}
	}
	return segment{kind: segField, name: name}
}

func (p *parser) name() (string, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '.' || c == '[' || c == ']' || c == '\'' || c == '"' || c == ' ' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected member name")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) bracket() (segment, error) {
	p.pos++ // [
	if p.pos >= len(p.src) {
		return segment{}, p.errorf("unterminated bracket")
	}

	var seg segment
	switch c := p.src[p.pos]; {
	case c == '*':
		p.pos++
		seg = segment{kind: segWildcard}
	case c == '\'' || c == '"':
		end := strings.IndexByte(p.src[p.pos+1:], c)
		if end < 0 {
			return segment{}, p.errorf("unterminated quoted name")
		}
		seg = segment{kind: segField, name: p.src[p.pos+1 : p.pos+1+end]}
		p.pos += end + 2
	default:
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != ']' {
			p.pos++
		}
		idx, err := strconv.Atoi(strings.TrimSpace(p.src[start:p.pos]))
		if err != nil {
			p.pos = start
			return segment{}, p.errorf("expected index, quoted name or *")
		}
		seg = segment{kind: segIndex, index: idx}
	}

	if p.pos >= len(p.src) || p.src[p.pos] != ']' {
		return segment{}, p.errorf("expected ]")
	}
	p.pos++
	return seg, nil
}
