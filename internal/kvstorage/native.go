package kvstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
    area TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (area, key)
);
`

type NativeOptions struct {
	Area     string
	ReadOnly bool
}

// Native is the host-provided implementation.
type Native struct {
	db       *sql.DB
	path     string
	area     string
	readOnly bool

	schemaMu    sync.Mutex
	schemaReady bool
	tableExists bool
}

// OpenNative opens the SQLite database at path. Read-only hosts open the
// database with query_only, so mutations fail with ErrAccessDenied.
func OpenNative(ctx context.Context, path string, opts NativeOptions) (*Native, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("backing store path is required")
	}
	area, err := normalizeArea(opts.Area)
	if err != nil {
		return nil, err
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)"
	if opts.ReadOnly {
		dsn += "&_pragma=query_only(1)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, classifyError("ping sqlite db", err)
	}
	return &Native{db: sqlDB, path: cleanPath, area: area, readOnly: opts.ReadOnly}, nil
}

// BackingStore returns the database path. Its presence is what Detect probes.
func (n *Native) BackingStore() string {
	return n.path
}

func (n *Native) Close() error {
	if n == nil || n.db == nil {
		return nil
	}
	return n.db.Close()
}

func (n *Native) ensureSchema(ctx context.Context) error {
	n.schemaMu.Lock()
	defer n.schemaMu.Unlock()
	if n.schemaReady {
		return nil
	}
	if n.readOnly {
		var count int
		err := n.db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'kv_entries'`).Scan(&count)
		if err != nil {
			return classifyError("inspect storage schema", err)
		}
		n.tableExists = count > 0
		n.schemaReady = true
		return nil
	}
	if _, err := n.db.ExecContext(ctx, createEntriesTable); err != nil {
		return classifyError("create storage schema", err)
	}
	n.tableExists = true
	n.schemaReady = true
	return nil
}

func (n *Native) prepareWrite(ctx context.Context, op string) error {
	if err := n.prepare(ctx); err != nil {
		return err
	}
	if n.readOnly {
		return accessDenied(op, nil)
	}
	return nil
}

func (n *Native) prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == nil || n.db == nil {
		return ErrClosed
	}
	return n.ensureSchema(ctx)
}

func (n *Native) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if err := n.prepare(ctx); err != nil {
		return nil, false, err
	}
	if !n.tableExists {
		return nil, false, nil
	}
	var data []byte
	err := n.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE area = ? AND key = ?`, n.area, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyError("get "+key, err)
	}
	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (n *Native) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := n.prepareWrite(ctx, "set "+key); err != nil {
		return err
	}
	_, err = n.db.ExecContext(
		ctx,
		`INSERT INTO kv_entries (area, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(area, key) DO UPDATE SET value = excluded.value`,
		n.area, key, data,
	)
	if err != nil {
		return classifyError("set "+key, err)
	}
	return nil
}

func (n *Native) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := n.prepareWrite(ctx, "delete "+key); err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE area = ? AND key = ?`, n.area, key); err != nil {
		return classifyError("delete "+key, err)
	}
	return nil
}

func (n *Native) Clear(ctx context.Context) error {
	if err := n.prepareWrite(ctx, "clear"); err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE area = ?`, n.area); err != nil {
		return classifyError("clear", err)
	}
	return nil
}

func (n *Native) Keys(ctx context.Context) ([]string, error) {
	if err := n.prepare(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	if !n.tableExists {
		return keys, nil
	}
	rows, err := n.db.QueryContext(ctx, `SELECT key FROM kv_entries WHERE area = ? ORDER BY key`, n.area)
	if err != nil {
		return nil, classifyError("keys", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, classifyError("keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("keys", err)
	}
	return keys, nil
}

func classifyError(op string, err error) error {
	if isPermissionError(err) {
		return accessDenied(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_READONLY, sqlite3lib.SQLITE_PERM, sqlite3lib.SQLITE_AUTH, sqlite3lib.SQLITE_CANTOPEN:
			return true
		}
	}
	return false
}

var _ Storage = (*Native)(nil)
