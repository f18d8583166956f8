package dbconn

import (
	"strings"
	"testing"

	"github.com/Genoma-Agency/db-sync/internal/schema"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

func testMeta() schema.TableMetadata {
	return schema.TableMetadata{
		Schema: "s",
		Table:  "orders",
		Columns: []schema.ColumnDescriptor{
			{Name: "id", SQLType: "int", IsPrimaryKey: true},
			{Name: "region", SQLType: "varchar", IsPrimaryKey: true},
			{Name: "amount", SQLType: "decimal"},
		},
		PKIndex: []int{0, 1},
	}
}

func TestKeyLoadSQLShape(t *testing.T) {
	c := New(nil, testMeta())
	sql := c.keyLoadSQL(false)
	if !strings.Contains(sql, "SELECT `id`,`region` FROM `s`.`orders` LIMIT ? OFFSET ?") {
		t.Errorf("keyLoadSQL(false) = %q, unexpected shape", sql)
	}

	withMD5 := c.keyLoadSQL(true)
	if !strings.Contains(withMD5, "MD5(CONCAT(") || !strings.Contains(withMD5, "#MD5@CHECK#") {
		t.Errorf("keyLoadSQL(true) = %q, missing MD5 projection", withMD5)
	}
}

func TestBulkSelectSQLTupleWidth(t *testing.T) {
	c := New(nil, testMeta())
	sql := c.bulkSelectSQL(3)
	if got := strings.Count(sql, "(?,?)"); got != 3 {
		t.Errorf("bulkSelectSQL(3) has %d two-column tuples, want 3: %q", got, sql)
	}
	if !strings.Contains(sql, "WHERE (`id`,`region`) IN (") {
		t.Errorf("bulkSelectSQL(3) = %q, missing key tuple predicate", sql)
	}
}

func TestInsertSQLColumnOrder(t *testing.T) {
	c := New(nil, testMeta())
	sql := c.insertSQL()
	want := "INSERT INTO `s`.`orders` (`id`,`region`,`amount`) VALUES (?,?,?)"
	if sql != want {
		t.Errorf("insertSQL() = %q, want %q", sql, want)
	}
}

func TestUpdateSQLSetBeforeWhere(t *testing.T) {
	c := New(nil, testMeta())
	sql := c.updateSQL()
	want := "UPDATE `s`.`orders` SET `amount`=? WHERE `id`=? AND `region`=?"
	if sql != want {
		t.Errorf("updateSQL() = %q, want %q", sql, want)
	}
}

func TestDeleteSQLKeyOnly(t *testing.T) {
	c := New(nil, testMeta())
	sql := c.deleteSQL()
	want := "DELETE FROM `s`.`orders` WHERE `id`=? AND `region`=?"
	if sql != want {
		t.Errorf("deleteSQL() = %q, want %q", sql, want)
	}
}

func TestRenderKeyEncoding(t *testing.T) {
	// renderKey must byte-encode identically to diffengine.keyString: both
	// use \x00 as field separator and \x01 as the null sentinel, since
	// MD5ByKeys results are matched back to requested keys by value, not
	// by row position.
	key := []types.Field{types.NewLongField(7), types.NewNullField(types.TypeString)}
	if got, want := renderKey(key), "7\x00\x01"; got != want {
		t.Errorf("renderKey(%v) = %q, want %q", key, got, want)
	}
}
