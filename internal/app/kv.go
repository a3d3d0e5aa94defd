package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ben-ranford/stdmod/internal/ctxlog"
	"github.com/ben-ranford/stdmod/internal/kvstorage"
	"github.com/ben-ranford/stdmod/internal/report"
)

var ErrUnknownKVOperation = errors.New("unknown kv operation")

// DefaultPolyfillDir is where polyfill areas persist, relative to the project
// root.
const DefaultPolyfillDir = ".stdmod/kv"

// executeKV opens the storage the host flags describe and applies one
// operation. Access denials still produce a report alongside the error.
func (a *App) executeKV(ctx context.Context, req Request) (string, error) {
	kv := req.KV
	if err := validateKVRequest(kv); err != nil {
		return "", err
	}
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return "", err
	}

	host := kvstorage.Host{
		Area:        kv.Area,
		PolyfillDir: cfg.Abs(DefaultPolyfillDir),
		ReadOnly:    kv.ReadOnly,
	}
	if dir := strings.TrimSpace(kv.PolyfillDir); dir != "" {
		host.PolyfillDir = cfg.Abs(dir)
	}
	if store := strings.TrimSpace(kv.StorePath); store != "" && !kv.Polyfill {
		host.BackingStore = cfg.Abs(store)
	}

	storage, err := kvstorage.Open(ctx, host)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := storage.Close(); closeErr != nil {
			ctxlog.FromContext(ctx).Warn("close kv storage", "error", closeErr)
		}
	}()

	variant := kvstorage.Detect(storage)
	ctxlog.FromContext(ctx).Debug("opened kv storage", "variant", string(variant), "area", kv.Area)
	rep := report.KVReport{
		Variant:   string(variant),
		Status:    variant.Status(),
		Operation: string(kv.Operation),
		Key:       kv.Key,
	}

	opErr := applyKV(ctx, storage, kv, &rep)
	if opErr != nil && !errors.Is(opErr, kvstorage.ErrAccessDenied) {
		return "", opErr
	}
	formatted, err := a.Formatter.Format(rep, req.Format)
	if err != nil {
		return "", err
	}
	return formatted, opErr
}

func validateKVRequest(kv KVRequest) error {
	switch kv.Operation {
	case KVGet, KVSet, KVDelete:
		if kv.Key == "" {
			return fmt.Errorf("kv %s: %w", kv.Operation, kvstorage.ErrInvalidKey)
		}
	case KVKeys, KVClear:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKVOperation, kv.Operation)
	}
	return nil
}

func applyKV(ctx context.Context, storage kvstorage.Storage, kv KVRequest, rep *report.KVReport) error {
	switch kv.Operation {
	case KVGet:
		value, found, err := storage.Get(ctx, kv.Key)
		if err != nil {
			return err
		}
		rep.Found = found
		rep.Value = value
		return nil
	case KVSet:
		return storage.Set(ctx, kv.Key, parseKVValue(kv.Value))
	case KVDelete:
		return storage.Delete(ctx, kv.Key)
	case KVClear:
		return storage.Clear(ctx)
	default:
		keys, err := storage.Keys(ctx)
		if err != nil {
			return err
		}
		rep.Keys = keys
		rep.Found = len(keys) > 0
		return nil
	}
}

// parseKVValue stores JSON literals as typed values and anything else as a
// plain string.
func parseKVValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}
