// Package rowbatch implements the transient full-row buffer used for bulk
// selects and MD5-compare payloads.
package rowbatch

import (
	"database/sql"

	"github.com/Genoma-Agency/db-sync/internal/types"
)

// RowBatch is an ordered sequence of Rows plus the shared column-name
// vector; HasMD5 records whether an MD5 tail is present on every row.
type RowBatch struct {
	Names  []string
	Rows   []types.Row
	HasMD5 bool
}

// New builds an empty RowBatch.
func New() *RowBatch { return &RowBatch{} }

// Clear empties rows and names, for reuse within a phase.
func (b *RowBatch) Clear() {
	b.Names = nil
	b.Rows = b.Rows[:0]
	b.HasMD5 = false
}

// LoadRow records column names on first use (dropping the trailing MD5-tail
// name) and appends a Row scanned from a *sql.Rows cursor.
func (b *RowBatch) LoadRow(colNames []string, tags []types.TypeTag, rows *sql.Rows, hasMD5 bool) error {
	if b.Names == nil {
		if hasMD5 && len(colNames) > 0 {
			b.Names = append([]string(nil), colNames[:len(colNames)-1]...)
		} else {
			b.Names = append([]string(nil), colNames...)
		}
		b.HasMD5 = hasMD5
	}
	n := len(tags)
	dest := make([]any, n)
	vals := make([]sql.NullString, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	var md5Val sql.NullString
	if hasMD5 {
		dest = append(dest, &md5Val)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	fields := make([]types.Field, 0, n+1)
	for i := 0; i < n; i++ {
		f, err := types.FieldFromDriverValue(tags[i], vals[i].String, vals[i].Valid)
		if err != nil {
			return err
		}
		fields = append(fields, f)
	}
	if hasMD5 {
		fields = append(fields, types.NewStringField(types.TypeString, md5Val.String))
	}
	b.Rows = append(b.Rows, types.Row{Fields: fields, HasMD5: hasMD5})
	return nil
}

// Append adds an already-built Row (used by the update path, which builds
// rows from KeyTable data rather than scanning them directly).
func (b *RowBatch) Append(r types.Row) {
	b.Rows = append(b.Rows, r)
}

// Rotate cyclically shifts the first k fields of every row to the end,
// in place, so that in the UPDATE prepared statement the SET (non-key)
// values appear before the WHERE (key) values.
func (b *RowBatch) Rotate(k int) {
	for i := range b.Rows {
		b.Rows[i].Fields = types.Rotate(b.Rows[i].Fields, k)
	}
}

// KeyFirst reorders each row's fields so that the columns at pkIdx come
// first (in pkIdx order) followed by the remaining columns in their
// original relative order. This is the step that must run before Rotate
// when the table's declared column order does not already put the primary
// key first.
func (b *RowBatch) KeyFirst(pkIdx []int) {
	isPk := make(map[int]bool, len(pkIdx))
	for _, i := range pkIdx {
		isPk[i] = true
	}
	for r := range b.Rows {
		orig := b.Rows[r].Fields
		out := make([]types.Field, 0, len(orig))
		for _, i := range pkIdx {
			out = append(out, orig[i])
		}
		for i, f := range orig {
			if !isPk[i] {
				out = append(out, f)
			}
		}
		b.Rows[r].Fields = out
	}
}
