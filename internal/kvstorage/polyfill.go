package kvstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ben-ranford/stdmod/internal/identmap"
	"github.com/ben-ranford/stdmod/internal/safeio"
)

type PolyfillOptions struct {
	Area     string
	Dir      string
	ReadOnly bool
}

// Polyfill is the user-space implementation. Its private state lives in an
// identity-keyed map rather than on the struct, so a Polyfill value exposes
// nothing but the Storage surface.
type Polyfill struct {
	tags identmap.Tags
}

type polyfillState struct {
	mu       sync.Mutex
	area     string
	path     string
	readOnly bool
	loaded   bool
	closed   bool
	entries  map[string]json.RawMessage
}

var polyfillStates = identmap.New[Polyfill, *polyfillState]()

func NewPolyfill(opts PolyfillOptions) (*Polyfill, error) {
	area, err := normalizeArea(opts.Area)
	if err != nil {
		return nil, err
	}
	state := &polyfillState{
		area:     area,
		readOnly: opts.ReadOnly,
		entries:  make(map[string]json.RawMessage),
	}
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		state.path = filepath.Join(dir, area+".json")
	} else {
		state.loaded = true
	}

	p := &Polyfill{}
	polyfillStates.Set(p, state)
	return p, nil
}

// Tags lets the tagged identmap fallback store state on the instance itself.
func (p *Polyfill) Tags() *identmap.Tags {
	return &p.tags
}

func (p *Polyfill) state(ctx context.Context) (*polyfillState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrClosed
	}
	state, ok := polyfillStates.Get(p)
	if !ok {
		return nil, ErrClosed
	}
	return state, nil
}

func (p *Polyfill) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	state, err := p.state(ctx)
	if err != nil {
		return nil, false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := state.load(); err != nil {
		return nil, false, err
	}
	data, ok := state.entries[key]
	if !ok {
		return nil, false, nil
	}
	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *Polyfill) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return p.mutate(ctx, "set "+key, func(entries map[string]json.RawMessage) {
		entries[key] = data
	})
}

func (p *Polyfill) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.mutate(ctx, "delete "+key, func(entries map[string]json.RawMessage) {
		delete(entries, key)
	})
}

func (p *Polyfill) Clear(ctx context.Context) error {
	return p.mutate(ctx, "clear", func(entries map[string]json.RawMessage) {
		clear(entries)
	})
}

func (p *Polyfill) Keys(ctx context.Context) ([]string, error) {
	state, err := p.state(ctx)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := state.load(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(state.entries))
	for key := range state.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *Polyfill) Close() error {
	if p == nil {
		return nil
	}
	if state, ok := polyfillStates.Get(p); ok {
		state.mu.Lock()
		state.closed = true
		state.mu.Unlock()
	}
	polyfillStates.Delete(p)
	return nil
}

// mutate applies change to a copy of the entries and only commits it once it
// is persisted, so a denied write leaves the area unchanged.
func (p *Polyfill) mutate(ctx context.Context, op string, change func(map[string]json.RawMessage)) error {
	state, err := p.state(ctx)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.closed {
		return ErrClosed
	}
	if state.readOnly {
		return accessDenied(op, nil)
	}
	if err := state.load(); err != nil {
		return err
	}

	next := make(map[string]json.RawMessage, len(state.entries)+1)
	for key, value := range state.entries {
		next[key] = value
	}
	change(next)
	if err := state.persist(op, next); err != nil {
		return err
	}
	state.entries = next
	return nil
}

func (s *polyfillState) load() error {
	if s.loaded {
		return nil
	}
	data, err := safeio.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.loaded = true
			return nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return accessDenied("read storage area "+s.area, err)
		}
		return fmt.Errorf("read storage area %s: %w", s.area, err)
	}
	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode storage area %s: %w", s.area, err)
	}
	s.entries = entries
	s.loaded = true
	return nil
}

func (s *polyfillState) persist(op string, entries map[string]json.RawMessage) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%s: encode storage area: %w", op, err)
	}
	if err := safeio.WriteFileAtomic(s.path, data, 0o600); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return accessDenied(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var _ Storage = (*Polyfill)(nil)
