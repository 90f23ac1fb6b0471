package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Transactions on any path are serialized.
type Memory struct {
	mu     sync.Mutex
	root   any
	writes int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{root: map[string]any{}}
}

// Set writes a value directly, bypassing Transact. Used to seed fixtures.
func (m *Memory) Set(path string, v any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	norm, err := normalize(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = replace(m.root, segs, norm)
	return nil
}

// Writes returns the number of committed transactions.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Get(ctx context.Context, path string, dst any) (bool, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := lookup(m.root, segs)
	if !ok {
		return false, nil
	}
	return true, decodeInto(v, dst)
}

func (m *Memory) Transact(ctx context.Context, path string, fn UpdateFunc) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, found := lookup(m.root, segs)
	node, err := encodeNode(cur, found)
	if err != nil {
		return err
	}
	next, err := fn(node)
	if err != nil {
		return err
	}
	norm, err := normalize(next)
	if err != nil {
		return err
	}
	m.root = replace(m.root, segs, norm)
	m.writes++
	return nil
}
