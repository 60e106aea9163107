package store

import (
	"context"
	"strings"

	"cloud.google.com/go/bigtable"
	"github.com/devrev/avcorr/internal/errors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// BigtableClient is a Client backed by Cloud Bigtable.
type BigtableClient struct {
	client *bigtable.Client
	admin  *bigtable.AdminClient
	logger *zap.Logger
}

// NewBigtableClient connects data and admin clients for project/instance.
func NewBigtableClient(ctx context.Context, project, instance string, logger *zap.Logger, opts ...option.ClientOption) (*BigtableClient, error) {
	if project == "" || instance == "" {
		return nil, errors.InvalidArgumentf("bigtable project and instance are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := bigtable.NewClient(ctx, project, instance, opts...)
	if err != nil {
		return nil, errors.FromGRPC("failed to create bigtable client", err)
	}
	admin, err := bigtable.NewAdminClient(ctx, project, instance, opts...)
	if err != nil {
		client.Close()
		return nil, errors.FromGRPC("failed to create bigtable admin client", err)
	}

	logger.Info("Connected to bigtable",
		zap.String("project", project),
		zap.String("instance", instance))

	return &BigtableClient{client: client, admin: admin, logger: logger}, nil
}

// OpenTable implements Client.
func (c *BigtableClient) OpenTable(ctx context.Context, name string, families []string) (Table, error) {
	fs, err := newFamilySet(families)
	if err != nil {
		return nil, err
	}

	tables, err := c.admin.Tables(ctx)
	if err != nil {
		return nil, errors.FromGRPC("failed to list tables", err)
	}
	exists := false
	for _, t := range tables {
		if t == name {
			exists = true
			break
		}
	}
	if !exists {
		if err := c.admin.CreateTable(ctx, name); err != nil {
			return nil, errors.FromGRPC("failed to create table "+name, err)
		}
		c.logger.Info("Created bigtable table", zap.String("table", name))
	}

	info, err := c.admin.TableInfo(ctx, name)
	if err != nil {
		return nil, errors.FromGRPC("failed to describe table "+name, err)
	}
	present := make(map[string]bool, len(info.FamilyInfos))
	for _, fi := range info.FamilyInfos {
		present[fi.Name] = true
	}
	if err := fs.add(info.Families); err != nil {
		return nil, err
	}

	for _, fam := range families {
		if present[fam] {
			continue
		}
		if err := c.admin.CreateColumnFamily(ctx, name, fam); err != nil {
			return nil, errors.FromGRPC("failed to create column family "+fam, err)
		}
		if err := c.admin.SetGCPolicy(ctx, name, fam, bigtable.MaxVersionsPolicy(1)); err != nil {
			return nil, errors.FromGRPC("failed to set gc policy on "+fam, err)
		}
		c.logger.Info("Created column family",
			zap.String("table", name),
			zap.String("family", fam))
	}

	return &bigtableTable{name: name, tbl: c.client.Open(name), families: fs}, nil
}

// Close implements Client.
func (c *BigtableClient) Close() error {
	aerr := c.admin.Close()
	if err := c.client.Close(); err != nil {
		return err
	}
	return aerr
}

type bigtableTable struct {
	name     string
	tbl      *bigtable.Table
	families familySet
}

func (t *bigtableTable) Name() string {
	return t.name
}

func (t *bigtableTable) Families() []string {
	return t.families.list()
}

func (t *bigtableTable) ReadRow(ctx context.Context, key string) (*Row, error) {
	r, err := t.tbl.ReadRow(ctx, key, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return nil, errors.FromGRPC("failed to read row "+key, err)
	}
	if len(r) == 0 {
		return nil, errors.RowNotFound(t.name, key)
	}
	return fromBigtableRow(key, r), nil
}

func (t *bigtableTable) ReadRows(ctx context.Context, rng RowRange, fn func(*Row) bool) error {
	var set bigtable.RowSet
	if rng.Unbounded() {
		set = bigtable.InfiniteRange(rng.Start)
	} else {
		set = bigtable.NewRange(rng.Start, rng.End)
	}

	err := t.tbl.ReadRows(ctx, set, func(r bigtable.Row) bool {
		return fn(fromBigtableRow(r.Key(), r))
	}, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return errors.FromGRPC("failed to read rows", err)
	}
	return nil
}

func (t *bigtableTable) MutateRows(ctx context.Context, muts []*Mutation) error {
	if err := t.families.check(t.name, muts); err != nil {
		return err
	}

	rowKeys := make([]string, len(muts))
	bms := make([]*bigtable.Mutation, len(muts))
	for i, m := range muts {
		rowKeys[i] = m.RowKey
		bm := bigtable.NewMutation()
		for _, c := range m.Cells {
			bm.Set(c.Family, c.Qualifier, bigtable.Timestamp(0), c.Value)
		}
		bms[i] = bm
	}

	rowErrs, err := t.tbl.ApplyBulk(ctx, rowKeys, bms)
	if err != nil {
		return errors.FromGRPC("failed to apply mutations", err)
	}
	for i, rerr := range rowErrs {
		if rerr != nil {
			return errors.FromGRPC("failed to mutate row "+rowKeys[i], rerr)
		}
	}
	return nil
}

func (t *bigtableTable) Close() error {
	return nil
}

// fromBigtableRow flattens "family:qualifier" columns.
func fromBigtableRow(key string, r bigtable.Row) *Row {
	row := &Row{Key: key}
	for fam, items := range r {
		for _, it := range items {
			qual := strings.TrimPrefix(it.Column, fam+":")
			row.Cells = append(row.Cells, Cell{Family: fam, Qualifier: qual, Value: it.Value})
		}
	}
	row.sortCells()
	return row
}
