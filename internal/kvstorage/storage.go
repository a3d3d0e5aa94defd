// Package kvstorage is the key/value capability behind std:kv-storage. Two
// variants implement Storage: Native, backed by a host-provided SQLite
// database, and Polyfill, a user-space store. Callers hold a Storage and do
// not branch on which variant the loader picked.
package kvstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const DefaultArea = "default"

var (
	// ErrAccessDenied reports that the host refused storage access. It is
	// recoverable: report it and carry on without assuming the write landed.
	ErrAccessDenied = errors.New("storage access denied")
	ErrClosed       = errors.New("storage is closed")
	ErrInvalidKey   = errors.New("storage key is required")
	ErrInvalidArea  = errors.New("invalid storage area")
)

type Storage interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

type Variant string

const (
	VariantNative   Variant = "native"
	VariantPolyfill Variant = "polyfill"
)

// Status is the human readable label shown for a variant.
func (v Variant) Status() string {
	if v == VariantNative {
		return "built-in module"
	}
	return "polyfill"
}

// Detect reports which variant s is by probing for the BackingStore member
// only the native implementation has. Use it for diagnostics only.
func Detect(s Storage) Variant {
	if _, ok := s.(interface{ BackingStore() string }); ok {
		return VariantNative
	}
	return VariantPolyfill
}

// Host describes what the runtime environment provides.
type Host struct {
	// BackingStore is the path of the host's native storage database. Empty
	// means the host has no native implementation.
	BackingStore string
	// Area names the storage area; DefaultArea when empty.
	Area string
	// PolyfillDir persists polyfill areas as JSON files. Empty keeps them in
	// memory.
	PolyfillDir string
	// ReadOnly hosts deny every mutation.
	ReadOnly bool
}

// Open selects the variant for host once: native when the host provides a
// backing store, the polyfill otherwise.
func Open(ctx context.Context, host Host) (Storage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	area, err := normalizeArea(host.Area)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(host.BackingStore) != "" {
		return OpenNative(ctx, host.BackingStore, NativeOptions{Area: area, ReadOnly: host.ReadOnly})
	}
	polyfill, err := NewPolyfill(PolyfillOptions{Area: area, Dir: host.PolyfillDir, ReadOnly: host.ReadOnly})
	if err != nil {
		return nil, err
	}
	return polyfill, nil
}

// normalizeArea trims area and defaults it. An area names a single file in
// the polyfill directory, so separators and dot segments are rejected.
func normalizeArea(area string) (string, error) {
	area = strings.TrimSpace(area)
	if area == "" {
		return DefaultArea, nil
	}
	if strings.ContainsAny(area, `/\`) || strings.Contains(area, "..") || area == "." || strings.ContainsRune(area, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArea, area)
	}
	return area, nil
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// encodeValue clones value into its stored JSON form, so both variants hand
// back structurally equal copies rather than shared references.
func encodeValue(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return value, nil
}

func accessDenied(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrAccessDenied)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrAccessDenied, cause)
}
