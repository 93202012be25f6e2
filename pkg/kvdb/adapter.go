// Copyright 2025 Palisade Chain
//
// Column-addressed key-value storage over a CometBFT dbm.DB. One physical
// database is opened per process; every subsystem works against a Column
// view, and all writes at commit points go through an atomic Batch.

package kvdb

import (
	"errors"

	dbm "github.com/cometbft/cometbft-db"
)

// Logical columns of the persisted node state.
const (
	ColHeaders = "hdr"
	ColBodies  = "bod"
	ColExtras  = "ext"
	ColState   = "sta"
	ColTxIndex = "txi"
)

var ErrClosed = errors.New("database closed")

// Database wraps one physical dbm.DB and hands out column views.
type Database struct {
	db dbm.DB
}

// Open opens (or creates) a goleveldb-backed database under dir.
func Open(name, dir string) (*Database, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// NewMemDatabase returns an in-memory database for tests.
func NewMemDatabase() *Database {
	return &Database{db: dbm.NewMemDB()}
}

// Column returns a prefixed view of the database.
func (d *Database) Column(name string) *Column {
	return &Column{db: d.db, prefix: append([]byte(name), ':')}
}

// NewBatch starts an atomic write batch spanning all columns.
func (d *Database) NewBatch() *Batch {
	return &Batch{b: d.db.NewBatch()}
}

// Close releases the underlying store.
func (d *Database) Close() error { return d.db.Close() }

// Column is a key-prefixed view. Reads treat a missing key as (nil, nil),
// matching the dbm contract.
type Column struct {
	db     dbm.DB
	prefix []byte
}

func (c *Column) key(k []byte) []byte {
	out := make([]byte, 0, len(c.prefix)+len(k))
	out = append(out, c.prefix...)
	return append(out, k...)
}

// Get returns the stored value, or nil when absent.
func (c *Column) Get(k []byte) ([]byte, error) {
	return c.db.Get(c.key(k))
}

// Has reports key presence.
func (c *Column) Has(k []byte) (bool, error) {
	return c.db.Has(c.key(k))
}

// Set writes durably (SetSync) — used only outside batch commit paths.
func (c *Column) Set(k, v []byte) error {
	return c.db.SetSync(c.key(k), v)
}

// Delete removes a key.
func (c *Column) Delete(k []byte) error {
	return c.db.DeleteSync(c.key(k))
}

// Iterate walks every key of the column in ascending order, stripped of the
// column prefix. The callback returning false stops the walk.
func (c *Column) Iterate(fn func(k, v []byte) bool) error {
	start := c.prefix
	end := prefixEnd(c.prefix)
	it, err := c.db.Iterator(start, end)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k := it.Key()[len(c.prefix):]
		if !fn(k, it.Value()) {
			break
		}
	}
	return it.Error()
}

// Batch accumulates writes across columns and commits them atomically.
type Batch struct {
	b dbm.Batch
}

// Set queues a write into a column.
func (b *Batch) Set(col *Column, k, v []byte) error {
	return b.b.Set(col.key(k), v)
}

// Delete queues a delete from a column.
func (b *Batch) Delete(col *Column, k []byte) error {
	return b.b.Delete(col.key(k))
}

// Write commits the batch durably.
func (b *Batch) Write() error { return b.b.WriteSync() }

// Close releases the batch without committing.
func (b *Batch) Close() error { return b.b.Close() }

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
