package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// CassandraConfig selects the cluster and keyspace.
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

// CassandraClient maps wide-column tables onto CQL tables partitioned by the
// row key segment before the first underscore.
//
//	PRIMARY KEY ((bucket), row_key, family, qualifier)
//
// Row keys sort within a bucket, so range scans read buckets in order.
type CassandraClient struct {
	session *gocql.Session
	logger  *zap.Logger
}

var cqlIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// NewCassandraClient opens a session on cfg.Keyspace.
func NewCassandraClient(cfg CassandraConfig, logger *zap.Logger) (*CassandraClient, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.InvalidArgumentf("cassandra hosts are required")
	}
	if !cqlIdent.MatchString(cfg.Keyspace) {
		return nil, errors.InvalidArgumentf("invalid cassandra keyspace %q", cfg.Keyspace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, errors.InvalidArgument("invalid cassandra consistency", err)
		}
		cluster.Consistency = c
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Unavailable("failed to connect to cassandra", err)
	}

	logger.Info("Connected to cassandra",
		zap.Strings("hosts", cfg.Hosts),
		zap.String("keyspace", cfg.Keyspace))

	return &CassandraClient{session: session, logger: logger}, nil
}

// OpenTable implements Client. Families are enforced client side.
func (c *CassandraClient) OpenTable(ctx context.Context, name string, families []string) (Table, error) {
	if !cqlIdent.MatchString(name) {
		return nil, errors.InvalidArgumentf("invalid cassandra table name %q", name)
	}
	fs, err := newFamilySet(families)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket text,
		row_key text,
		family text,
		qualifier text,
		value blob,
		PRIMARY KEY ((bucket), row_key, family, qualifier)
	)`, name)
	if err := c.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return nil, errors.Unavailable("failed to create table "+name, err)
	}

	return &cassandraTable{name: name, session: c.session, families: fs}, nil
}

// Close implements Client.
func (c *CassandraClient) Close() error {
	c.session.Close()
	return nil
}

type cassandraTable struct {
	name     string
	session  *gocql.Session
	families familySet
}

func (t *cassandraTable) Name() string {
	return t.name
}

func (t *cassandraTable) Families() []string {
	return t.families.list()
}

func bucketOf(key string) string {
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i]
	}
	return key
}

func (t *cassandraTable) ReadRow(ctx context.Context, key string) (*Row, error) {
	q := fmt.Sprintf(`SELECT row_key, family, qualifier, value FROM %s WHERE bucket = ? AND row_key = ?`, t.name)
	iter := t.session.Query(q, bucketOf(key), key).WithContext(ctx).Iter()

	var found *Row
	if err := t.collect(iter, func(r *Row) bool {
		found = r
		return false
	}); err != nil {
		return nil, err
	}
	if found.Empty() {
		return nil, errors.RowNotFound(t.name, key)
	}
	return found, nil
}

func (t *cassandraTable) ReadRows(ctx context.Context, rng RowRange, fn func(*Row) bool) error {
	buckets, err := t.bucketsFor(ctx, rng)
	if err != nil {
		return err
	}

	stop := false
	for _, b := range buckets {
		var iter *gocql.Iter
		if rng.Unbounded() {
			q := fmt.Sprintf(`SELECT row_key, family, qualifier, value FROM %s WHERE bucket = ? AND row_key >= ?`, t.name)
			iter = t.session.Query(q, b, rng.Start).WithContext(ctx).Iter()
		} else {
			q := fmt.Sprintf(`SELECT row_key, family, qualifier, value FROM %s WHERE bucket = ? AND row_key >= ? AND row_key < ?`, t.name)
			iter = t.session.Query(q, b, rng.Start, rng.End).WithContext(ctx).Iter()
		}
		err := t.collect(iter, func(r *Row) bool {
			if !fn(r) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// bucketsFor lists the partitions that may hold keys of rng, in order.
func (t *cassandraTable) bucketsFor(ctx context.Context, rng RowRange) ([]string, error) {
	if !rng.Unbounded() && rng.Start != "" && bucketOf(rng.Start) == bucketOf(rng.End) &&
		strings.Contains(rng.Start, "_") {
		return []string{bucketOf(rng.Start)}, nil
	}

	q := fmt.Sprintf(`SELECT DISTINCT bucket FROM %s`, t.name)
	iter := t.session.Query(q).WithContext(ctx).Iter()

	var buckets []string
	var b string
	for iter.Scan(&b) {
		buckets = append(buckets, b)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Unavailable("failed to list partitions of "+t.name, err)
	}
	sort.Strings(buckets)
	return buckets, nil
}

// collect groups consecutive cells of iter into rows and closes it.
func (t *cassandraTable) collect(iter *gocql.Iter, fn func(*Row) bool) error {
	var (
		cur               *Row
		rowKey, fam, qual string
		value             []byte
		stopped           bool
	)
	for iter.Scan(&rowKey, &fam, &qual, &value) {
		if cur != nil && cur.Key != rowKey {
			if !fn(cur) {
				stopped = true
				break
			}
			cur = nil
		}
		if cur == nil {
			cur = &Row{Key: rowKey}
		}
		cur.Cells = append(cur.Cells, Cell{
			Family:    fam,
			Qualifier: qual,
			Value:     append([]byte(nil), value...),
		})
	}
	if err := iter.Close(); err != nil {
		return errors.Unavailable("failed to read rows of "+t.name, err)
	}
	if cur != nil && !stopped {
		fn(cur)
	}
	return nil
}

func (t *cassandraTable) MutateRows(ctx context.Context, muts []*Mutation) error {
	if err := t.families.check(t.name, muts); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (bucket, row_key, family, qualifier, value) VALUES (?, ?, ?, ?, ?)`, t.name)
	batch := t.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, m := range muts {
		for _, c := range m.Cells {
			batch.Query(stmt, bucketOf(m.RowKey), m.RowKey, c.Family, c.Qualifier, c.Value)
		}
	}
	if err := t.session.ExecuteBatch(batch); err != nil {
		return errors.Unavailable("failed to apply mutations to "+t.name, err)
	}
	return nil
}

func (t *cassandraTable) Close() error {
	return nil
}
