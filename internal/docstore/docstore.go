// Package docstore is a small abstraction over a hierarchical JSON document
// store addressed by slash-separated paths, with one conditional-write
// primitive.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPath is returned for empty or malformed paths.
var ErrInvalidPath = errors.New("docstore: invalid path")

// Node is the current value seen by a transaction function.
type Node interface {
	Unmarshal(v any) error
}

// UpdateFunc receives the current value at a path and returns its
// replacement. Returning an error aborts the write and the error is passed
// back to the caller unchanged. Backends may call it more than once, so it
// must not keep state between calls.
type UpdateFunc func(current Node) (any, error)

// Store reads and conditionally writes JSON values.
type Store interface {
	// Get decodes the value at path into dst. It reports false when there is
	// no value.
	Get(ctx context.Context, path string, dst any) (bool, error)

	// Transact replaces the value at path with the result of fn, atomically
	// with respect to other Transact calls on the same path.
	Transact(ctx context.Context, path string, fn UpdateFunc) error
}

// SplitPath validates a path and returns its segments.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// JoinPath joins segments into a path.
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// ApplyPatch applies a multi-path update to doc. Keys are paths relative to
// doc ("purchases/cs_1" sets a nested node), creating intermediate objects as
// needed. Shorter keys apply first so a nested key refines its parent.
func ApplyPatch(doc map[string]any, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		segs, err := SplitPath(k)
		if err != nil {
			return err
		}
		setIn(doc, segs, fields[k])
	}
	return nil
}

func setIn(doc map[string]any, segs []string, v any) {
	cur := doc
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(cur, last)
		return
	}
	cur[last] = v
}

// lookup walks a decoded JSON tree.
func lookup(root any, segs []string) (any, bool) {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// replace returns root with the node at segs set to v. A nil v removes it.
func replace(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	m, ok := root.(map[string]any)
	if !ok {
		if v == nil {
			return root
		}
		m = map[string]any{}
	}
	setIn(m, segs, v)
	return m
}

// normalize turns v into plain JSON values (maps, slices, float64, string,
// bool) so stored trees never alias caller structs.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docstore: decode value: %w", err)
	}
	return out, nil
}

// rawNode is a Node over an encoded JSON value.
type rawNode json.RawMessage

func (n rawNode) Unmarshal(v any) error {
	if len(n) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(n, v)
}

func encodeNode(v any, found bool) (rawNode, error) {
	if !found {
		return rawNode("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode node: %w", err)
	}
	return rawNode(raw), nil
}

func decodeInto(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("docstore: encode node: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("docstore: decode node: %w", err)
	}
	return nil
}
