package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/source"
)

// ErrInvalidPath is returned for record paths or keys containing forbidden characters.
var ErrInvalidPath = errors.New("invalid record path")

const forbiddenKeyChars = ".$#[]"

// The record tree is stored as one row per scalar leaf. Maps are implied by
// their leaves, so setting a value to nil deletes it and empty maps vanish.

// Set replaces the value stored at path. A nil value deletes the subtree.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	path = source.Clean(path)
	leaves, err := flattenValue(path, value)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceTx(ctx, tx, path, leaves); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.hub.Notify(path)
	return nil
}

// Update sets each child of path in a single transaction, leaving other
// children untouched. Child keys may themselves be relative paths, but no
// child may be an ancestor of another.
func (s *Store) Update(ctx context.Context, path string, children map[string]any) error {
	path = source.Clean(path)
	type change struct {
		path   string
		leaves map[string]string
	}
	var changes []change
	for key, v := range children {
		childPath := source.Clean(path + "/" + key)
		if childPath == path {
			return fmt.Errorf("%w: empty child key", ErrInvalidPath)
		}
		leaves, err := flattenValue(childPath, v)
		if err != nil {
			return err
		}
		changes = append(changes, change{path: childPath, leaves: leaves})
	}
	for i := range changes {
		for j := i + 1; j < len(changes); j++ {
			if source.Overlaps(changes[i].path, changes[j].path) {
				return fmt.Errorf("%w: %s and %s overlap", ErrInvalidPath, changes[i].path, changes[j].path)
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range changes {
		if err := replaceTx(ctx, tx, c.path, c.leaves); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.hub.Notify(path)
	return nil
}

// NewKey returns a time-ordered key for a new child, as used by Push.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return id.String(), nil
}

// Push stores value under a new time-ordered key below path and returns the key.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := NewKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, source.Clean(path)+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the subtree at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Get returns the value stored at path: a nested map[string]any, a scalar,
// or nil when nothing is stored there.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	path = source.Clean(path)

	var rows *sql.Rows
	var err error
	if path == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value FROM records`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT path, value FROM records WHERE path = ? OR (path >= ? AND path < ?)`,
			path, path+"/", path+"0",
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var root map[string]any
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		rel := source.Split(strings.TrimPrefix(p, path))
		if len(rel) == 0 {
			return v, rows.Err()
		}
		if root == nil {
			root = make(map[string]any)
		}
		insertLeaf(root, rel, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	return root, nil
}

// Snapshot returns the mapping stored at path, or nil when path holds nothing
// or a scalar.
func (s *Store) Snapshot(ctx context.Context, path string) (model.Snapshot, error) {
	v, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}

// Subscribe implements source.Source.
func (s *Store) Subscribe(path string, fn func(model.Snapshot)) (source.Unsubscribe, error) {
	return s.hub.Subscribe(path, fn)
}

// Subscribers returns the number of live record subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

func replaceTx(ctx context.Context, tx *sql.Tx, path string, leaves map[string]string) error {
	if path == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE path = ? OR (path >= ? AND path < ?)`,
			path, path+"/", path+"0",
		); err != nil {
			return err
		}
		// A scalar stored at an ancestor cannot coexist with children.
		segs := source.Split(path)
		for i := 1; i < len(segs); i++ {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, strings.Join(segs[:i], "/")); err != nil {
				return err
			}
		}
	}
	for p, v := range leaves {
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (path, value) VALUES (?, ?)`, p, v); err != nil {
			return err
		}
	}
	return nil
}

// flattenValue validates value and returns its scalar leaves keyed by full path.
func flattenValue(path string, value any) (map[string]string, error) {
	for _, seg := range source.Split(path) {
		if err := validateKey(seg); err != nil {
			return nil, err
		}
	}

	// Round-trip through JSON so typed values (model.UserRecord, ...) become
	// plain maps and scalars.
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	leaves := make(map[string]string)
	if err := flatten(path, plain, leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flatten(path string, v any, leaves map[string]string) error {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range t {
			if err := validateKey(k); err != nil {
				return err
			}
			if err := flatten(joinPath(path, k), child, leaves); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, child := range t {
			if err := flatten(joinPath(path, strconv.Itoa(i)), child, leaves); err != nil {
				return err
			}
		}
		return nil
	default:
		if path == "" {
			return fmt.Errorf("%w: scalar at root", ErrInvalidPath)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		leaves[path] = string(data)
		return nil
	}
}

func insertLeaf(root map[string]any, segs []string, v any) {
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func validateKey(k string) error {
	if k == "" || strings.Contains(k, "/") || strings.ContainsAny(k, forbiddenKeyChars) {
		return fmt.Errorf("%w: key %q", ErrInvalidPath, k)
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}
