package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/devrev/avcorr/internal/errors"
	"go.uber.org/zap"
)

// Pebble key layout:
//
//	/schema/{table}                              -> JSON family list
//	/rows/{table}\x00{row}\x00{family}\x00{qual} -> cell value
//
// The \x00 separator keeps rows of one table in row-key byte order.
const (
	pebblePrefixSchema = "/schema/"
	pebblePrefixRows   = "/rows/"
	pebbleSep          = byte(0)
)

// PebbleClient stores tables in a local pebble database.
type PebbleClient struct {
	db     *pebble.DB
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*pebbleTable
}

// NewPebbleClient opens (or creates) the database at dir.
func NewPebbleClient(dir string, logger *zap.Logger) (*PebbleClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Unavailable("failed to open pebble store at "+dir, err)
	}

	logger.Info("Opened pebble store", zap.String("dir", dir))

	return &PebbleClient{
		db:     db,
		logger: logger,
		tables: make(map[string]*pebbleTable),
	}, nil
}

// OpenTable implements Client.
func (c *PebbleClient) OpenTable(ctx context.Context, name string, families []string) (Table, error) {
	if name == "" || bytes.IndexByte([]byte(name), pebbleSep) >= 0 {
		return nil, errors.InvalidArgumentf("invalid table name %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fs, err := c.loadFamilies(name)
	if err != nil {
		return nil, err
	}
	if err := fs.add(families); err != nil {
		return nil, err
	}

	data, err := json.Marshal(fs.list())
	if err != nil {
		return nil, errors.InternalError("failed to encode table schema", err)
	}
	if err := c.db.Set([]byte(pebblePrefixSchema+name), data, pebble.Sync); err != nil {
		return nil, errors.Unavailable("failed to write table schema", err)
	}

	t, ok := c.tables[name]
	if !ok {
		t = &pebbleTable{name: name, db: c.db}
		c.tables[name] = t
	}
	t.mu.Lock()
	t.families = fs
	t.mu.Unlock()

	return t, nil
}

func (c *PebbleClient) loadFamilies(name string) (familySet, error) {
	val, closer, err := c.db.Get([]byte(pebblePrefixSchema + name))
	if err == pebble.ErrNotFound {
		return familySet{}, nil
	}
	if err != nil {
		return nil, errors.Unavailable("failed to read table schema", err)
	}
	defer closer.Close()

	var families []string
	if err := json.Unmarshal(val, &families); err != nil {
		return nil, errors.CorruptedData("malformed schema for table "+name, err)
	}
	return newFamilySet(families)
}

// Close implements Client.
func (c *PebbleClient) Close() error {
	return c.db.Close()
}

type pebbleTable struct {
	name string
	db   *pebble.DB

	mu       sync.RWMutex
	families familySet
}

func (t *pebbleTable) Name() string {
	return t.name
}

func (t *pebbleTable) Families() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.families.list()
}

func (t *pebbleTable) tablePrefix() []byte {
	return append([]byte(pebblePrefixRows+t.name), pebbleSep)
}

func (t *pebbleTable) rowPrefix(row string) []byte {
	return append(append(t.tablePrefix(), row...), pebbleSep)
}

func (t *pebbleTable) cellKey(row string, c Cell) []byte {
	k := t.rowPrefix(row)
	k = append(k, c.Family...)
	k = append(k, pebbleSep)
	return append(k, c.Qualifier...)
}

// splitCellKey parses {row}\x00{family}\x00{qual} after the table prefix.
func (t *pebbleTable) splitCellKey(key []byte) (row string, c Cell, ok bool) {
	rest := key[len(t.tablePrefix()):]
	parts := bytes.SplitN(rest, []byte{pebbleSep}, 3)
	if len(parts) != 3 {
		return "", Cell{}, false
	}
	return string(parts[0]), Cell{Family: string(parts[1]), Qualifier: string(parts[2])}, true
}

func (t *pebbleTable) ReadRow(ctx context.Context, key string) (*Row, error) {
	var found *Row
	prefix := t.rowPrefix(key)
	err := t.scan(ctx, prefix, prefixUpperBound(prefix), func(r *Row) bool {
		found = r
		return false
	})
	if err != nil {
		return nil, err
	}
	if found.Empty() {
		return nil, errors.RowNotFound(t.name, key)
	}
	return found, nil
}

func (t *pebbleTable) ReadRows(ctx context.Context, rng RowRange, fn func(*Row) bool) error {
	lower := append(t.tablePrefix(), rng.Start...)
	var upper []byte
	if rng.Unbounded() {
		upper = prefixUpperBound(t.tablePrefix())
	} else {
		// Row == End sorts as End\x00..., past this bound.
		upper = t.rowPrefix(rng.End)
	}
	return t.scan(ctx, lower, upper, fn)
}

// scan groups consecutive cells into rows.
func (t *pebbleTable) scan(ctx context.Context, lower, upper []byte, fn func(*Row) bool) error {
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return errors.Unavailable("failed to create pebble iterator", err)
	}
	defer iter.Close()

	var cur *Row
	for iter.SeekGE(lower); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, cell, ok := t.splitCellKey(iter.Key())
		if !ok {
			return errors.CorruptedData("malformed cell key in table "+t.name, nil)
		}
		cell.Value = append([]byte(nil), iter.Value()...)

		if cur != nil && cur.Key != row {
			if !fn(cur) {
				return nil
			}
			cur = nil
		}
		if cur == nil {
			cur = &Row{Key: row}
		}
		cur.Cells = append(cur.Cells, cell)
	}
	if err := iter.Error(); err != nil {
		return errors.Unavailable("pebble iteration failed", err)
	}
	if cur != nil {
		fn(cur)
	}
	return nil
}

func (t *pebbleTable) MutateRows(ctx context.Context, muts []*Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	err := t.families.check(t.name, muts)
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	batch := t.db.NewBatch()
	defer batch.Close()

	for _, m := range muts {
		for _, c := range m.Cells {
			if err := batch.Set(t.cellKey(m.RowKey, c), c.Value, nil); err != nil {
				return errors.InternalError("failed to stage mutation", err)
			}
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Unavailable("failed to commit mutations", err)
	}
	return nil
}

func (t *pebbleTable) Close() error {
	return nil
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
