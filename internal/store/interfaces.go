package store

import (
	"context"
	"sort"
	"strings"

	"github.com/devrev/avcorr/internal/errors"
)

// Client opens tables on a wide-column store.
type Client interface {
	// OpenTable returns a handle to table name, creating it and any missing
	// column families (with a single retained version) first.
	OpenTable(ctx context.Context, name string, families []string) (Table, error)
	Close() error
}

// Table is a wide-column table addressed by row key, column family and
// column qualifier.
type Table interface {
	Name() string
	Families() []string

	// ReadRow returns a NotFound StoreError when the row has no cells.
	ReadRow(ctx context.Context, key string) (*Row, error)

	// ReadRows calls fn for each row in rng in byte order of row keys until fn
	// returns false.
	ReadRows(ctx context.Context, rng RowRange, fn func(*Row) bool) error

	// MutateRows applies every mutation. Rows are independent; there is no
	// atomicity across mutations.
	MutateRows(ctx context.Context, muts []*Mutation) error

	Close() error
}

// Cell is one value at (family, qualifier).
type Cell struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Row is the latest version of every cell stored under Key.
type Row struct {
	Key   string
	Cells []Cell
}

// Value returns the cell at (family, qualifier).
func (r *Row) Value(family, qualifier string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			return c.Value, true
		}
	}
	return nil, false
}

// Empty reports whether r has no cells.
func (r *Row) Empty() bool {
	return r == nil || len(r.Cells) == 0
}

func (r *Row) sortCells() {
	sort.Slice(r.Cells, func(i, j int) bool {
		if r.Cells[i].Family != r.Cells[j].Family {
			return r.Cells[i].Family < r.Cells[j].Family
		}
		return r.Cells[i].Qualifier < r.Cells[j].Qualifier
	})
}

// Mutation sets cells on one row. Later Set calls for the same cell win.
type Mutation struct {
	RowKey string
	Cells  []Cell
}

// NewMutation starts a mutation of rowKey.
func NewMutation(rowKey string) *Mutation {
	return &Mutation{RowKey: rowKey}
}

// Set records value at (family, qualifier).
func (m *Mutation) Set(family, qualifier string, value []byte) *Mutation {
	m.Cells = append(m.Cells, Cell{Family: family, Qualifier: qualifier, Value: value})
	return m
}

// RowRange is the half-open key interval [Start, End). An empty End is
// unbounded.
type RowRange struct {
	Start string
	End   string
}

// NewRange returns [start, end).
func NewRange(start, end string) RowRange {
	return RowRange{Start: start, End: end}
}

// PrefixRange covers every key beginning with prefix.
func PrefixRange(prefix string) RowRange {
	return RowRange{Start: prefix, End: prefixSuccessor(prefix)}
}

// InfiniteRange covers every key.
func InfiniteRange() RowRange {
	return RowRange{}
}

// Contains reports whether key lies in r.
func (r RowRange) Contains(key string) bool {
	return key >= r.Start && (r.End == "" || key < r.End)
}

// Unbounded reports whether r has no end.
func (r RowRange) Unbounded() bool {
	return r.End == ""
}

func prefixSuccessor(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// familySet validates and indexes declared column families.
type familySet map[string]bool

func newFamilySet(families []string) (familySet, error) {
	fs := make(familySet, len(families))
	for _, f := range families {
		if f == "" || strings.ContainsAny(f, ":\x00") {
			return nil, errors.InvalidArgumentf("invalid column family %q", f)
		}
		fs[f] = true
	}
	return fs, nil
}

func (fs familySet) add(families []string) error {
	more, err := newFamilySet(families)
	if err != nil {
		return err
	}
	for f := range more {
		fs[f] = true
	}
	return nil
}

func (fs familySet) list() []string {
	out := make([]string, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// check rejects mutations that cannot be stored on a table with these
// families.
func (fs familySet) check(table string, muts []*Mutation) error {
	for _, m := range muts {
		if m == nil {
			return errors.InvalidArgumentf("nil mutation for table %s", table)
		}
		if m.RowKey == "" || strings.ContainsRune(m.RowKey, 0) {
			return errors.InvalidArgumentf("invalid row key %q for table %s", m.RowKey, table)
		}
		if len(m.Cells) == 0 {
			return errors.InvalidArgumentf("mutation of row %s sets no cells", m.RowKey)
		}
		for _, c := range m.Cells {
			if !fs[c.Family] {
				return errors.InvalidArgumentf("column family %q is not declared on table %s", c.Family, table).
					WithDetail("row", m.RowKey)
			}
			if strings.ContainsRune(c.Qualifier, 0) {
				return errors.InvalidArgumentf("invalid column qualifier %q", c.Qualifier)
			}
		}
	}
	return nil
}
