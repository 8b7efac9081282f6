package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/mudbridge/internal/ir"
)

// MutateFunc computes a record's next value from its current one.
// found is false when the record has never been written.
type MutateFunc func(current ir.Object, found bool) (ir.Object, error)

// SetRecord overwrites a record with value. See UpdateRecord.
func (s *Store) SetRecord(ctx context.Context, component, key string, value ir.Object, block int64) (ir.Update, error) {
	return s.UpdateRecord(ctx, component, key, block, func(ir.Object, bool) (ir.Object, error) {
		return value, nil
	})
}

// UpdateRecord performs an atomic read-modify-write of one record.
//
// In a single transaction it reads the current value, calls fn, writes the
// result with version+1 and appends the update log row. The returned Update
// carries the assigned Seq. An error from fn aborts the transaction and is
// returned unwrapped so callers can match it.
func (s *Store) UpdateRecord(ctx context.Context, component, key string, block int64, fn MutateFunc) (ir.Update, error) {
	key = ir.NormalizeKey(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op after commit

	var (
		currentJSON string
		version     int64
		found       = true
	)
	err = tx.QueryRowContext(ctx, `
		SELECT value, version FROM records
		WHERE component = ? AND entity_key = ?
	`, component, key).Scan(&currentJSON, &version)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return ir.Update{}, fmt.Errorf("update record: read current: %w", err)
	}

	var current ir.Object
	if found {
		current, err = unmarshalObject(currentJSON)
		if err != nil {
			return ir.Update{}, fmt.Errorf("update record: %w", err)
		}
	}

	next, err := fn(current.Clone(), found)
	if err != nil {
		return ir.Update{}, err
	}
	if next == nil {
		next = ir.Object{}
	}

	nextJSON, err := marshalObject(next)
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: %w", err)
	}

	upd := ir.Update{
		Component: component,
		Key:       key,
		Value:     next,
		PrevValue: current,
		Version:   version + 1,
		Block:     block,
	}
	upd.ID, err = ir.UpdateID(component, key, next, upd.Version)
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (component, entity_key, value, version, block)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component, entity_key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			block = excluded.block
	`, component, key, nextJSON, upd.Version, block)
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: write record: %w", err)
	}

	var prevJSON sql.NullString
	if found {
		prevJSON = sql.NullString{String: currentJSON, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO updates (id, component, entity_key, value, prev_value, version, block)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, upd.ID, component, key, nextJSON, prevJSON, upd.Version, block)
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: append update: %w", err)
	}
	upd.Seq, err = res.LastInsertId()
	if err != nil {
		return ir.Update{}, fmt.Errorf("update record: read seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Update{}, fmt.Errorf("update record: commit: %w", err)
	}
	return upd, nil
}

// BeginWrite records a submitted action as pending.
func (s *Store) BeginWrite(ctx context.Context, id, action string, block int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO writes (id, action, status, block)
		VALUES (?, ?, ?, ?)
	`, id, action, ir.WriteStatusPending, block)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", id, err)
	}
	return nil
}

// ConfirmWrite marks a write confirmed with its result and the update it produced.
func (s *Store) ConfirmWrite(ctx context.Context, id string, result ir.Value, updateSeq int64) error {
	resultJSON, err := ir.MarshalCanonical(result)
	if err != nil {
		return fmt.Errorf("confirm write %s: %w", id, err)
	}
	return s.finishWrite(ctx, id, `
		UPDATE writes SET status = ?, result = ?, update_seq = ?
		WHERE id = ? AND status = ?
	`, ir.WriteStatusConfirmed, string(resultJSON), updateSeq, id, ir.WriteStatusPending)
}

// FailWrite marks a pending write failed.
func (s *Store) FailWrite(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finishWrite(ctx, id, `
		UPDATE writes SET status = ?, error = ?
		WHERE id = ? AND status = ?
	`, ir.WriteStatusFailed, msg, id, ir.WriteStatusPending)
}

func (s *Store) finishWrite(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish write %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish write %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish write %s: no pending write: %w", id, ErrNotFound)
	}
	return nil
}

func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		obj = ir.Object{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalObject(data string) (ir.Object, error) {
	v, err := ir.ParseValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal value: expected object, got %T", v)
	}
	return obj, nil
}
