// Package keytable implements a columnar primary-key container: one
// typed vector per PK column, a permutation giving sorted order, and a
// per-row flag bitmap consumed by the diff engine.
package keytable

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

// column is one typed vector, sized to rowCount, chosen by the PK column's
// type tag. Only the slice matching the tag is populated; the rest stay nil.
type column struct {
	tag types.TypeTag

	strs    []string // STRING | BLOB | XML | DATE's formatted form
	i64s    []int64  // INT | LONG
	u64s    []uint64 // ULONG
	f64s    []float64
	epochs  []int64 // DATE epoch seconds, parallel to strs
	isNull  []bool
}

func newColumn(tag types.TypeTag, capacity int) *column {
	c := &column{tag: tag, isNull: make([]bool, 0, capacity)}
	switch tag {
	case types.TypeInt, types.TypeLong:
		c.i64s = make([]int64, 0, capacity)
	case types.TypeULong:
		c.u64s = make([]uint64, 0, capacity)
	case types.TypeDouble:
		c.f64s = make([]float64, 0, capacity)
	case types.TypeDate:
		c.strs = make([]string, 0, capacity)
		c.epochs = make([]int64, 0, capacity)
	default:
		c.strs = make([]string, 0, capacity)
	}
	return c
}

func (c *column) append(f types.Field) {
	c.isNull = append(c.isNull, f.IsNull)
	switch c.tag {
	case types.TypeInt, types.TypeLong:
		v := f
		c.i64s = append(c.i64s, fieldInt(v))
	case types.TypeULong:
		c.u64s = append(c.u64s, fieldULong(f))
	case types.TypeDouble:
		c.f64s = append(c.f64s, fieldDouble(f))
	case types.TypeDate:
		c.strs = append(c.strs, f.String())
		c.epochs = append(c.epochs, f.EpochSeconds())
	default:
		c.strs = append(c.strs, f.String())
	}
}

// fieldInt/fieldULong/fieldDouble extract the typed payload through Field's
// AsInt/AsULong/AsDouble accessors, so no value round-trips through its
// String() form.
func fieldInt(f types.Field) int64       { return f.AsInt() }
func fieldULong(f types.Field) uint64    { return f.AsULong() }
func fieldDouble(f types.Field) float64  { return f.AsDouble() }

func (c *column) fieldAt(i int) types.Field {
	if c.isNull[i] {
		return types.NewNullField(c.tag)
	}
	switch c.tag {
	case types.TypeInt:
		return types.NewIntField(c.i64s[i])
	case types.TypeLong:
		return types.NewLongField(c.i64s[i])
	case types.TypeULong:
		return types.NewULongField(c.u64s[i])
	case types.TypeDouble:
		return types.NewDoubleField(c.f64s[i])
	case types.TypeDate:
		t, err := time.Parse(time.DateTime, c.strs[i])
		if err != nil {
			return types.NewStringField(c.tag, c.strs[i])
		}
		return types.NewDateField(t)
	default:
		return types.NewStringField(c.tag, c.strs[i])
	}
}

// KeyTable holds the primary-key columns of one side of one table.
type KeyTable struct {
	Names []string
	cols  []*column
	tags  []types.TypeTag

	rowCount     int
	permutation  []int
	flags        []bool
	sortedOnLoad bool
	haveRow      bool
	prevRow      []types.Field
}

// New creates an empty KeyTable; column vectors are allocated lazily on the
// first LoadRow call once the PK column tags are known.
func New() *KeyTable {
	return &KeyTable{sortedOnLoad: true}
}

// LoadRow appends one PK tuple. On the first call it records column names
// and tags and allocates one typed vector per column.
func (k *KeyTable) LoadRow(names []string, pk []types.Field) {
	if !k.haveRow {
		k.Names = append([]string(nil), names...)
		k.tags = make([]types.TypeTag, len(pk))
		k.cols = make([]*column, len(pk))
		for i, f := range pk {
			k.tags[i] = f.Tag
			k.cols[i] = newColumn(f.Tag, 1024)
		}
		k.haveRow = true
	}
	for i, f := range pk {
		k.cols[i].append(f)
	}
	if k.prevRow != nil {
		if ord := compareFields(k.prevRow, pk); ord == types.Greater {
			k.sortedOnLoad = false
		}
	}
	k.prevRow = append([]types.Field(nil), pk...)
	k.flags = append(k.flags, false)
	k.rowCount++
}

func compareFields(a, b []types.Field) types.Ordering {
	for i := range a {
		if o := a[i].Compare(b[i]); o != types.Equivalent {
			return o
		}
	}
	return types.Equivalent
}

// RowCount is the current number of loaded keys.
func (k *KeyTable) RowCount() int { return k.rowCount }

// Sort builds the permutation. When loads arrived already non-decreasing,
// the permutation stays the identity and no sort runs (the sortedOnLoad
// fast path).
func (k *KeyTable) Sort(label string) {
	start := time.Now()
	k.permutation = make([]int, k.rowCount)
	for i := range k.permutation {
		k.permutation[i] = i
	}
	if !k.sortedOnLoad {
		sort.SliceStable(k.permutation, func(i, j int) bool {
			return k.compareRaw(k.permutation[i], k.permutation[j]) == types.Less
		})
	}
	elapsed := time.Since(start)
	logging.Debugf("keytable[%s]: sorted %d rows in %s (presorted=%t)", label, k.rowCount, elapsed, k.sortedOnLoad)
}

// compareRaw compares two rows by raw storage index (pre-permutation).
func (k *KeyTable) compareRaw(i, j int) types.Ordering {
	for c := range k.cols {
		a := k.cols[c].fieldAt(i)
		b := k.cols[c].fieldAt(j)
		if o := a.Compare(b); o != types.Equivalent {
			return o
		}
	}
	return types.Equivalent
}

// CompareAt compares this table's sorted position i against another
// KeyTable's sorted position j. Used by the diff engine's merge walk.
func (k *KeyTable) CompareAt(i int, other *KeyTable, j int) types.Ordering {
	ri, rj := k.permutation[i], other.permutation[j]
	if len(k.tags) != len(other.tags) {
		return types.Unordered
	}
	for c := range k.cols {
		if k.tags[c] != other.tags[c] {
			return types.Unordered
		}
		a := k.cols[c].fieldAt(ri)
		b := other.cols[c].fieldAt(rj)
		if o := a.Compare(b); o != types.Equivalent {
			return o
		}
	}
	return types.Equivalent
}

// FieldsAt returns the PK fields at sorted position i, in declaration
// order, for binding into a prepared statement or a bulk IN-list.
func (k *KeyTable) FieldsAt(i int) []types.Field {
	ri := k.permutation[i]
	out := make([]types.Field, len(k.cols))
	for c := range k.cols {
		out[c] = k.cols[c].fieldAt(ri)
	}
	return out
}

// BindAt binds position i's PK values, in declaration order, into args.
func (k *KeyTable) BindAt(i int, args *[]any) {
	for _, f := range k.FieldsAt(i) {
		*args = append(*args, bindValue(f))
	}
}

func bindValue(f types.Field) any {
	if f.IsNull {
		return nil
	}
	return f.String()
}

// SetFlag marks sorted position i.
func (k *KeyTable) SetFlag(i int, v bool) { k.flags[k.permutation[i]] = v }

// FlagAt reads the flag at sorted position i.
func (k *KeyTable) FlagAt(i int) bool { return k.flags[k.permutation[i]] }

// RevertFlags inverts every flag in place, used by the update compare
// step to go from "diff classification" to "candidate set".
func (k *KeyTable) RevertFlags() {
	for i := range k.flags {
		k.flags[i] = !k.flags[i]
	}
}

// CountFlag counts sorted-order rows whose flag equals v.
func (k *KeyTable) CountFlag(v bool) int {
	n := 0
	for i := 0; i < k.rowCount; i++ {
		if k.FlagAt(i) == v {
			n++
		}
	}
	return n
}

// Iterate returns sorted positions whose flag equals v, in sorted order.
// A plain filter over the permutation is simpler to consume from Go than
// a live cursor and is equivalent for this table's access pattern.
func (k *KeyTable) Iterate(v bool) []int {
	out := make([]int, 0, k.rowCount)
	for i := 0; i < k.rowCount; i++ {
		if k.FlagAt(i) == v {
			out = append(out, i)
		}
	}
	return out
}

// Check asserts that the PK at sorted position i equals the key-typed
// prefix of a fully fetched row, for detecting out-of-order bulk-fetch
// results. The add and update paths do not call it.
func (k *KeyTable) Check(i int, rowPrefix []types.Field) error {
	want := k.FieldsAt(i)
	if len(rowPrefix) < len(want) {
		return fmt.Errorf("keytable check: row prefix too short: have %d want %d", len(rowPrefix), len(want))
	}
	for c := range want {
		if want[c].Compare(rowPrefix[c]) != types.Equivalent {
			return fmt.Errorf("keytable check: key mismatch at column %d: table has %q, row has %q", c, want[c], rowPrefix[c])
		}
	}
	return nil
}

// Clear drops all rows, ready for reuse at the start of the next table.
func (k *KeyTable) Clear() {
	*k = *New()
}

// Scan is a convenience over *sql.Rows used by the key-load statement
// family: it reads len(tags) nullable string columns plus, when withMD5 is
// true, a trailing MD5 string, and returns the PK fields and MD5 text.
func Scan(rows *sql.Rows, tags []types.TypeTag, withMD5 bool) (pk []types.Field, md5 string, err error) {
	n := len(tags)
	dest := make([]any, n)
	vals := make([]sql.NullString, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	var md5Val sql.NullString
	if withMD5 {
		dest = append(dest, &md5Val)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, "", err
	}
	pk = make([]types.Field, n)
	for i := 0; i < n; i++ {
		f, ferr := types.FieldFromDriverValue(tags[i], vals[i].String, vals[i].Valid)
		if ferr != nil {
			return nil, "", ferr
		}
		pk[i] = f
	}
	if withMD5 {
		md5 = md5Val.String
	}
	return pk, md5, nil
}
