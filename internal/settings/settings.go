// Package settings is the persistent key/value store for user-level settings
// and engine bookkeeping (per-calendar errors, the event uid snapshot).
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	KeyCalendars                  = "icalUris"
	KeyEventLimit                 = "eventLimit"
	KeyNextEventTokensPerCalendar = "nextEventTokensPerCalendar"
	KeyDateFormat                 = "dateFormat"
	KeyTimeFormat                 = "timeFormat"
	KeyEventUIDs                  = "eventUids"
)

// Store is a key/value store with change notification. Listeners are called
// synchronously after a Set that actually changed the stored value.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	OnSet(fn func(key string))
}

// GetJSON decodes key into v. It reports false when the key is absent.
func GetJSON(s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.Set(key, data)
}

// listeners is shared by the Store implementations.
type listeners struct {
	mu  sync.Mutex
	fns []func(string)
}

func (l *listeners) add(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *listeners) notify(key string) {
	l.mu.Lock()
	fns := append([]func(string){}, l.fns...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	listeners
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	old, ok := m.values[key]
	if ok && bytes.Equal(old, value) {
		m.mu.Unlock()
		return nil
	}
	m.values[key] = bytes.Clone(value)
	m.mu.Unlock()

	m.notify(key)
	return nil
}

func (m *Memory) OnSet(fn func(key string)) {
	m.add(fn)
}
