package store

import (
	"context"
	"sync"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/storage/memtable"
	"go.uber.org/zap"
)

// memoryRow maps family -> qualifier -> value.
type memoryRow map[string]map[string][]byte

// MemoryClient is an in-process store. Tables live as long as the client.
type MemoryClient struct {
	mu     sync.Mutex
	tables map[string]*memoryTable
	logger *zap.Logger
}

// NewMemoryClient creates an empty in-memory store.
func NewMemoryClient(logger *zap.Logger) *MemoryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryClient{
		tables: make(map[string]*memoryTable),
		logger: logger,
	}
}

// OpenTable implements Client.
func (c *MemoryClient) OpenTable(ctx context.Context, name string, families []string) (Table, error) {
	if name == "" {
		return nil, errors.InvalidArgumentf("table name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[name]; ok {
		t.mu.Lock()
		err := t.families.add(families)
		t.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	fs, err := newFamilySet(families)
	if err != nil {
		return nil, err
	}
	t := &memoryTable{
		name:     name,
		families: fs,
		rows:     memtable.NewSkipList[memoryRow](),
	}
	c.tables[name] = t

	c.logger.Info("Created in-memory table",
		zap.String("table", name),
		zap.Strings("families", fs.list()))

	return t, nil
}

// Close implements Client.
func (c *MemoryClient) Close() error {
	return nil
}

type memoryTable struct {
	name     string
	mu       sync.RWMutex
	families familySet
	rows     *memtable.SkipList[memoryRow]
}

func (t *memoryTable) Name() string {
	return t.name
}

func (t *memoryTable) Families() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.families.list()
}

func (t *memoryTable) ReadRow(ctx context.Context, key string) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rows.Search(key)
	if !ok {
		return nil, errors.RowNotFound(t.name, key)
	}
	return r.toRow(key), nil
}

func (t *memoryTable) ReadRows(ctx context.Context, rng RowRange, fn func(*Row) bool) error {
	// Snapshot the range so fn may call back into the table.
	t.mu.RLock()
	var rows []*Row
	it := t.rows.Iterator()
	if rng.Start != "" {
		it = t.rows.Seek(rng.Start)
	}
	for it.Next() {
		if !rng.Contains(it.Key()) {
			break
		}
		rows = append(rows, it.Value().toRow(it.Key()))
	}
	t.mu.RUnlock()

	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return nil
}

func (t *memoryTable) MutateRows(ctx context.Context, muts []*Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.families.check(t.name, muts); err != nil {
		return err
	}

	for _, m := range muts {
		r, ok := t.rows.Search(m.RowKey)
		if !ok {
			r = make(memoryRow)
			t.rows.Insert(m.RowKey, r)
		}
		for _, c := range m.Cells {
			if r[c.Family] == nil {
				r[c.Family] = make(map[string][]byte)
			}
			r[c.Family][c.Qualifier] = append([]byte(nil), c.Value...)
		}
	}
	return nil
}

func (t *memoryTable) Close() error {
	return nil
}

func (r memoryRow) toRow(key string) *Row {
	row := &Row{Key: key}
	for fam, cols := range r {
		for qual, val := range cols {
			row.Cells = append(row.Cells, Cell{
				Family:    fam,
				Qualifier: qual,
				Value:     append([]byte(nil), val...),
			})
		}
	}
	row.sortCells()
	return row
}
