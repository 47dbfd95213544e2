package semcache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// index stores cache entries in the cache_entries table. Entry ids are
// assigned inside the insert transaction as the current row count, so an id
// is always the entry's position in insertion order.
type index struct {
	db *sql.DB
}

// neighbor is the closest stored vector to a query.
type neighbor struct {
	ID       int64
	Distance float64
}

// nearest scans every stored vector and returns the one with the smallest
// squared L2 distance to vec. Vectors of a different dimension are skipped.
func (ix *index) nearest(ctx context.Context, vec []float32) (neighbor, bool, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT id, embedding FROM cache_entries WHERE dim = ?`, len(vec))
	if err != nil {
		return neighbor{}, false, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := neighbor{Distance: math.Inf(1)}
	found := false
	var buf []float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return neighbor{}, false, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return neighbor{}, false, fmt.Errorf("decoding embedding for %d: %w", id, err)
		}
		if d := squaredL2(vec, buf); d < best.Distance {
			best = neighbor{ID: id, Distance: d}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return neighbor{}, false, fmt.Errorf("iterating rows: %w", err)
	}
	return best, found, nil
}

func (ix *index) entry(ctx context.Context, id int64) (Entry, error) {
	var e Entry
	var createdAt string
	err := ix.db.QueryRowContext(ctx,
		`SELECT id, question, answer, created_at FROM cache_entries WHERE id = ?`, id,
	).Scan(&e.ID, &e.Question, &e.Answer, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("cache entry %d not found", id)
	}
	if err != nil {
		return Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return e, nil
}

type record struct {
	question string
	answer   string
	vec      []float32
}

// insert appends records in one transaction and returns their ids. Either
// every record is stored or none is.
func (ix *index) insert(ctx context.Context, records []record) ([]int64, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&next); err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (id, question, answer, embedding, dim, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = next + int64(i)
		if _, err := stmt.ExecContext(ctx, ids[i], r.question, r.answer, encodeFloat32s(r.vec), len(r.vec), now); err != nil {
			return nil, fmt.Errorf("inserting entry %d: %w", ids[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing entries: %w", err)
	}
	return ids, nil
}

func (ix *index) count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	return n, err
}

// dims lists the distinct vector dimensions, which differ only when the
// embedding model was changed.
func (ix *index) dims(ctx context.Context) ([]int, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT DISTINCT dim FROM cache_entries ORDER BY dim`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// list returns up to limit entries, most recent first.
func (ix *index) list(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, question, answer, created_at FROM cache_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			slog.Warn("cache entry with bad timestamp", "id", e.ID, "error", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, reusing its
// storage across rows during scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// squaredL2 is the squared Euclidean distance, the metric of a flat L2 index.
func squaredL2(a, b []float32) float64 {
	var d float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		d += diff * diff
	}
	return d
}
