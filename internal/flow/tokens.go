package flow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TokenType is the value type of a published token.
type TokenType string

const (
	TokenString TokenType = "string"
	TokenNumber TokenType = "number"
)

var (
	ErrTokenExists       = errors.New("token already registered")
	ErrTokenUnregistered = errors.New("token is unregistered")
	ErrTokenType         = errors.New("token value has wrong type")
)

type TokenOptions struct {
	Type  TokenType
	Title string
}

// Token is a published named value.
type Token struct {
	id       string
	opts     TokenOptions
	registry *TokenRegistry
}

func (t *Token) ID() string { return t.id }

func (t *Token) Title() string { return t.opts.Title }

// SetValue publishes v. Strings go to string tokens, ints to number tokens.
func (t *Token) SetValue(v any) error {
	switch v.(type) {
	case string:
		if t.opts.Type != TokenString {
			return fmt.Errorf("%w: %s wants %s", ErrTokenType, t.id, t.opts.Type)
		}
	case int:
		if t.opts.Type != TokenNumber {
			return fmt.Errorf("%w: %s wants %s", ErrTokenType, t.id, t.opts.Type)
		}
	default:
		return fmt.Errorf("%w: %s got %T", ErrTokenType, t.id, v)
	}
	return t.registry.set(t, v)
}

// Unregister withdraws the token. Further SetValue calls fail.
func (t *Token) Unregister() error {
	return t.registry.remove(t)
}

// PublishedToken is a read-only view of a registered token.
type PublishedToken struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Type  TokenType `json:"type"`
	Value any       `json:"value"`
}

// TokenRegistry holds all registered tokens and their latest values.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	values map[string]any
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		tokens: make(map[string]*Token),
		values: make(map[string]any),
	}
}

// CreateToken registers a new token. The id must not be in use.
func (r *TokenRegistry) CreateToken(id string, opts TokenOptions) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, id)
	}
	t := &Token{id: id, opts: opts, registry: r}
	r.tokens[id] = t
	return t, nil
}

func (r *TokenRegistry) set(t *Token, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[t.id] != t {
		return fmt.Errorf("%w: %s", ErrTokenUnregistered, t.id)
	}
	r.values[t.id] = v
	return nil
}

func (r *TokenRegistry) remove(t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[t.id] != t {
		return fmt.Errorf("%w: %s", ErrTokenUnregistered, t.id)
	}
	delete(r.tokens, t.id)
	delete(r.values, t.id)
	return nil
}

// Value returns the latest value of id.
func (r *TokenRegistry) Value(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[id]
	return v, ok
}

// Has reports whether id is registered.
func (r *TokenRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[id]
	return ok
}

// Published lists all registered tokens sorted by id.
func (r *TokenRegistry) Published() []PublishedToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PublishedToken, 0, len(r.tokens))
	for id, t := range r.tokens {
		out = append(out, PublishedToken{ID: id, Title: t.opts.Title, Type: t.opts.Type, Value: r.values[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
