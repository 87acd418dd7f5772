package kv

import (
	"bytes"
	"strings"
	"sync"
)

// Memory is an in-process Database. Commits hold an exclusive lock, so
// readers never observe a partially applied transaction.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Commit(tx *Tx) error {
	if tx == nil {
		return nil
	}
	if tx.err != nil {
		return tx.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, o := range tx.ops {
		switch o.kind {
		case opPut:
			m.data[string(o.key)] = o.value
		case opDelete:
			delete(m.data, string(o.key))
		case opDeletePrefix:
			prefix := string(o.key)
			for k := range m.data {
				if strings.HasPrefix(k, prefix) {
					delete(m.data, k)
				}
			}
		}
	}
	return nil
}

func (m *Memory) GetRaw(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
