// Package schema loads the list of base tables and per-table column
// descriptors from information_schema for one side of a sync run.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

// ColumnDescriptor is {name, sqlType, nullable, isPrimaryKey}. Two
// descriptors are equal iff all four fields match.
type ColumnDescriptor struct {
	Name         string
	SQLType      string
	Nullable     bool
	IsPrimaryKey bool

	typeTag types.TypeTag
}

func (c ColumnDescriptor) Equal(o ColumnDescriptor) bool {
	return c.Name == o.Name && c.SQLType == o.SQLType && c.Nullable == o.Nullable && c.IsPrimaryKey == o.IsPrimaryKey
}

// TypeTag is the scalar type tag this descriptor maps onto for Field/KeyTable.
func (c ColumnDescriptor) TypeTag() types.TypeTag { return c.typeTag }

// TableMetadata is the ordered, authoritative list of ColumnDescriptors for
// one table. PKIndex gives the positions, in Columns order, of the
// primary-key columns, in declaration order.
type TableMetadata struct {
	Schema      string
	Table       string
	Columns     []ColumnDescriptor
	PKIndex     []int
	RowEstimate int64
	HasTrigger  bool
	Engine      string
}

// FullName returns the backtick-quoted "`schema`.`table`" identifier.
func (m TableMetadata) FullName() string {
	return fmt.Sprintf("`%s`.`%s`", m.Schema, m.Table)
}

// PKNames returns the primary-key column names in declaration order.
func (m TableMetadata) PKNames() []string {
	out := make([]string, len(m.PKIndex))
	for i, idx := range m.PKIndex {
		out[i] = m.Columns[idx].Name
	}
	return out
}

// PKTags returns the primary-key column type tags, parallel to PKNames.
func (m TableMetadata) PKTags() []types.TypeTag {
	out := make([]types.TypeTag, len(m.PKIndex))
	for i, idx := range m.PKIndex {
		out[i] = m.Columns[idx].typeTag
	}
	return out
}

// ColumnTags returns the type tags for every column, in declaration order.
func (m TableMetadata) ColumnTags() []types.TypeTag {
	out := make([]types.TypeTag, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.typeTag
	}
	return out
}

// ColumnsEqual reports whether column count and every descriptor match,
// position for position, between source and target.
func ColumnsEqual(src, dst []ColumnDescriptor) bool {
	if len(src) != len(dst) {
		return false
	}
	for i := range src {
		if !src[i].Equal(dst[i]) {
			return false
		}
	}
	return true
}

var intWidthRE = regexp.MustCompile(`int\([0-9]*\)`)

// tagForDataType maps a MySQL DATA_TYPE to its scalar TypeTag.
func tagForDataType(dataType string) types.TypeTag {
	switch dataType {
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext", "enum", "set", "json":
		return types.TypeString
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob", "bit":
		return types.TypeBlob
	case "date", "datetime", "timestamp", "time":
		return types.TypeDate
	case "float", "double", "decimal", "numeric":
		return types.TypeDouble
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return types.TypeLong
	case "year":
		return types.TypeInt
	default:
		return types.TypeString
	}
}

// Repository loads metadata for one side (source or target) of the run.
// It keeps no cache: every call queries information_schema again.
type Repository struct {
	conn *sql.Conn
}

func NewRepository(conn *sql.Conn) *Repository {
	return &Repository{conn: conn}
}

// ListBaseTables lists base tables of a schema, ordered by name.
func (r *Repository) ListBaseTables(ctx context.Context, dbSchema string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.conn.QueryContext(ctx,
		"SELECT TABLE_NAME FROM information_schema.tables WHERE table_schema = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY table_name",
		dbSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: list base tables of %s: %w", dbSchema, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schema: scan table name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LoadTable loads one table's column descriptors and primary key, combining
// information_schema.columns (column list) and information_schema.
// key_column_usage (primary-key detection by constraint name 'PRIMARY').
func (r *Repository) LoadTable(ctx context.Context, dbSchema, table string) (TableMetadata, error) {
	m := TableMetadata{Schema: dbSchema, Table: table}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	infoRows, err := r.conn.QueryContext(cctx,
		"SELECT coalesce(data_length+index_length,-1), coalesce(TABLE_ROWS,-1), coalesce(ENGINE,'UNKNOWN') FROM information_schema.tables WHERE table_schema=? AND table_name=?",
		dbSchema, table)
	if err != nil {
		return m, fmt.Errorf("schema: query table info for %s.%s: %w", dbSchema, table, err)
	}
	found := false
	for infoRows.Next() {
		var size int64
		if err := infoRows.Scan(&size, &m.RowEstimate, &m.Engine); err != nil {
			infoRows.Close()
			return m, fmt.Errorf("schema: scan table info: %w", err)
		}
		found = true
	}
	infoRows.Close()
	if !found {
		return m, fmt.Errorf("schema: table %s.%s does not exist", dbSchema, table)
	}

	cctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	colRows, err := r.conn.QueryContext(cctx,
		"SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM information_schema.columns WHERE table_schema=? AND table_name=? ORDER BY ORDINAL_POSITION",
		dbSchema, table)
	if err != nil {
		return m, fmt.Errorf("schema: query columns for %s.%s: %w", dbSchema, table, err)
	}
	for colRows.Next() {
		var name, dataType, nullable string
		if err := colRows.Scan(&name, &dataType, &nullable); err != nil {
			colRows.Close()
			return m, fmt.Errorf("schema: scan column: %w", err)
		}
		sqlType := intWidthRE.ReplaceAllString(dataType, "int")
		m.Columns = append(m.Columns, ColumnDescriptor{
			Name:     name,
			SQLType:  sqlType,
			Nullable: nullable == "YES",
			typeTag:  tagForDataType(dataType),
		})
	}
	colRows.Close()
	if err := colRows.Err(); err != nil {
		return m, err
	}

	cctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pkRows, err := r.conn.QueryContext(cctx,
		"SELECT COLUMN_NAME FROM information_schema.key_column_usage WHERE table_schema=? AND table_name=? AND constraint_name='PRIMARY' ORDER BY ordinal_position",
		dbSchema, table)
	if err != nil {
		return m, fmt.Errorf("schema: query primary key for %s.%s: %w", dbSchema, table, err)
	}
	var pkNames []string
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			pkRows.Close()
			return m, fmt.Errorf("schema: scan pk column: %w", err)
		}
		pkNames = append(pkNames, name)
	}
	pkRows.Close()
	if err := pkRows.Err(); err != nil {
		return m, err
	}
	for _, pk := range pkNames {
		for i := range m.Columns {
			if m.Columns[i].Name == pk {
				m.Columns[i].IsPrimaryKey = true
				m.PKIndex = append(m.PKIndex, i)
				break
			}
		}
	}

	cctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	trigRows, err := r.conn.QueryContext(cctx,
		"SELECT count(*) FROM information_schema.triggers WHERE event_object_schema=? AND event_object_table=?",
		dbSchema, table)
	if err == nil {
		for trigRows.Next() {
			var cnt int64
			_ = trigRows.Scan(&cnt)
			m.HasTrigger = cnt > 0
		}
		trigRows.Close()
	}

	return m, nil
}

// GuessPrimaryKey picks the highest-cardinality non-nullable unique index
// as a stand-in primary key, for tables with none declared.
func (r *Repository) GuessPrimaryKey(ctx context.Context, m *TableMetadata) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.conn.QueryContext(cctx,
		"SELECT INDEX_NAME, COLUMN_NAME, coalesce(NON_UNIQUE,1), coalesce(CARDINALITY,0) FROM information_schema.statistics WHERE table_schema=? AND table_name=? AND INDEX_NAME != 'PRIMARY' ORDER BY INDEX_NAME, SEQ_IN_INDEX",
		m.Schema, m.Table)
	if err != nil {
		return fmt.Errorf("schema: query candidate indexes for %s: %w", m.FullName(), err)
	}
	defer rows.Close()
	type idx struct {
		name        string
		cols        []string
		nonUnique   int64
		cardinality int64
	}
	var idxs []idx
	for rows.Next() {
		var name, col string
		var nonUnique, card int64
		if err := rows.Scan(&name, &col, &nonUnique, &card); err != nil {
			return err
		}
		found := false
		for i := range idxs {
			if idxs[i].name == name {
				idxs[i].cols = append(idxs[i].cols, col)
				found = true
				break
			}
		}
		if !found {
			idxs = append(idxs, idx{name: name, cols: []string{col}, nonUnique: nonUnique, cardinality: card})
		}
	}
	best := -1
	var bestCard int64 = -1
	for i, ix := range idxs {
		if ix.nonUnique != 0 {
			continue
		}
		hasNullable := false
		for _, c := range ix.cols {
			for _, col := range m.Columns {
				if col.Name == c && col.Nullable {
					hasNullable = true
				}
			}
		}
		if hasNullable {
			continue
		}
		if ix.cardinality > bestCard {
			best = i
			bestCard = ix.cardinality
		}
	}
	if best == -1 {
		return fmt.Errorf("schema: table %s has no primary key and no usable unique index to guess one", m.FullName())
	}
	logging.Infof("schema: table %s has no primary key, guessing index %s", m.FullName(), idxs[best].name)
	for _, c := range idxs[best].cols {
		for i := range m.Columns {
			if m.Columns[i].Name == c {
				m.Columns[i].IsPrimaryKey = true
				m.PKIndex = append(m.PKIndex, i)
			}
		}
	}
	sort.Ints(m.PKIndex)
	return nil
}
