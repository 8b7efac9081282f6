package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/mudbridge/internal/ir"
)

// ReadRecord returns the current state of one record.
// Returns ErrNotFound if the record was never written.
func (s *Store) ReadRecord(ctx context.Context, component, key string) (ir.Record, error) {
	key = ir.NormalizeKey(key)

	var (
		valueJSON string
		rec       = ir.Record{Component: component, Key: key}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version, block FROM records
		WHERE component = ? AND entity_key = ?
	`, component, key).Scan(&valueJSON, &rec.Version, &rec.Block)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("record %s/%s: %w", component, key, ErrNotFound)
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("read record %s/%s: %w", component, key, err)
	}

	rec.Value, err = unmarshalObject(valueJSON)
	if err != nil {
		return ir.Record{}, fmt.Errorf("read record %s/%s: %w", component, key, err)
	}
	return rec, nil
}

// ReadRecords returns every record of a component ordered by entity key.
// An empty component returns records of all components.
func (s *Store) ReadRecords(ctx context.Context, component string) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT component, entity_key, value, version, block FROM records
		WHERE ? = '' OR component = ?
		ORDER BY component COLLATE BINARY ASC, entity_key COLLATE BINARY ASC
	`, component, component)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var records []ir.Record
	for rows.Next() {
		var (
			rec       ir.Record
			valueJSON string
		)
		if err := rows.Scan(&rec.Component, &rec.Key, &valueJSON, &rec.Version, &rec.Block); err != nil {
			return nil, fmt.Errorf("read records: scan: %w", err)
		}
		rec.Value, err = unmarshalObject(valueJSON)
		if err != nil {
			return nil, fmt.Errorf("read records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// ReadUpdatesAfter returns up to limit updates with seq > afterSeq, in seq
// order. A limit of zero or less returns all of them.
func (s *Store) ReadUpdatesAfter(ctx context.Context, afterSeq int64, limit int) ([]ir.Update, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, component, entity_key, value, prev_value, version, block
		FROM updates
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read updates after %d: %w", afterSeq, err)
	}
	return scanUpdates(rows)
}

// ReadUpdates returns the updates of one component with seq > afterSeq, in
// seq order. An empty component matches every component.
func (s *Store) ReadUpdates(ctx context.Context, component string, afterSeq int64) ([]ir.Update, error) {
	if component == "" {
		return s.ReadUpdatesAfter(ctx, afterSeq, 0)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, component, entity_key, value, prev_value, version, block
		FROM updates
		WHERE component = ? AND seq > ?
		ORDER BY seq ASC
	`, component, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read updates %s: %w", component, err)
	}
	return scanUpdates(rows)
}

func scanUpdates(rows *sql.Rows) ([]ir.Update, error) {
	defer rows.Close()

	var updates []ir.Update
	for rows.Next() {
		var (
			u         ir.Update
			valueJSON string
			prevJSON  sql.NullString
		)
		if err := rows.Scan(&u.Seq, &u.ID, &u.Component, &u.Key, &valueJSON, &prevJSON, &u.Version, &u.Block); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		var err error
		u.Value, err = unmarshalObject(valueJSON)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", u.Seq, err)
		}
		if prevJSON.Valid {
			u.PrevValue, err = unmarshalObject(prevJSON.String)
			if err != nil {
				return nil, fmt.Errorf("update %d prev: %w", u.Seq, err)
			}
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// LatestSeq returns the highest update seq, or 0 for an empty log.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM updates`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq.Int64, nil
}

// LatestBlock returns the highest block recorded by any update or write,
// or 0 when nothing was written yet.
func (s *Store) LatestBlock(ctx context.Context) (int64, error) {
	var block sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(block) FROM (
			SELECT block FROM updates
			UNION ALL
			SELECT block FROM writes
		)
	`).Scan(&block)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return block.Int64, nil
}

// ReadWrite returns one write log entry by id.
func (s *Store) ReadWrite(ctx context.Context, id string) (ir.Write, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, action, status, result, error, block
		FROM writes WHERE id = ?
	`, id)
	if err != nil {
		return ir.Write{}, fmt.Errorf("read write %s: %w", id, err)
	}
	writes, err := scanWrites(rows)
	if err != nil {
		return ir.Write{}, err
	}
	if len(writes) == 0 {
		return ir.Write{}, fmt.Errorf("write %s: %w", id, ErrNotFound)
	}
	return writes[0], nil
}

// ReadWrites returns write log entries with seq > afterSeq, in seq order.
func (s *Store) ReadWrites(ctx context.Context, afterSeq int64) ([]ir.Write, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, action, status, result, error, block
		FROM writes
		WHERE seq > ?
		ORDER BY seq ASC
	`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read writes: %w", err)
	}
	return scanWrites(rows)
}

func scanWrites(rows *sql.Rows) ([]ir.Write, error) {
	defer rows.Close()

	var writes []ir.Write
	for rows.Next() {
		var (
			w          ir.Write
			resultJSON sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&w.Seq, &w.ID, &w.Action, &w.Status, &resultJSON, &errMsg, &w.Block); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		if resultJSON.Valid {
			v, err := ir.ParseValue([]byte(resultJSON.String))
			if err != nil {
				return nil, fmt.Errorf("write %s result: %w", w.ID, err)
			}
			w.Result = v
		}
		w.Error = errMsg.String
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate writes: %w", err)
	}
	return writes, nil
}
