package schema

import (
	"testing"

	"github.com/Genoma-Agency/db-sync/internal/types"
)

func TestColumnsEqual(t *testing.T) {
	a := []ColumnDescriptor{
		{Name: "id", SQLType: "int", Nullable: false, IsPrimaryKey: true},
		{Name: "name", SQLType: "varchar", Nullable: true, IsPrimaryKey: false},
	}
	b := []ColumnDescriptor{
		{Name: "id", SQLType: "int", Nullable: false, IsPrimaryKey: true},
		{Name: "name", SQLType: "varchar", Nullable: true, IsPrimaryKey: false},
	}
	if !ColumnsEqual(a, b) {
		t.Errorf("ColumnsEqual() = false for identical descriptors")
	}
}

func TestColumnsEqualDetectsDifferences(t *testing.T) {
	base := []ColumnDescriptor{{Name: "id", SQLType: "int", Nullable: false, IsPrimaryKey: true}}

	diffName := []ColumnDescriptor{{Name: "uid", SQLType: "int", Nullable: false, IsPrimaryKey: true}}
	if ColumnsEqual(base, diffName) {
		t.Errorf("ColumnsEqual() = true for differing column names")
	}

	diffType := []ColumnDescriptor{{Name: "id", SQLType: "bigint", Nullable: false, IsPrimaryKey: true}}
	if ColumnsEqual(base, diffType) {
		t.Errorf("ColumnsEqual() = true for differing SQL types")
	}

	diffLen := append([]ColumnDescriptor{}, base...)
	diffLen = append(diffLen, ColumnDescriptor{Name: "extra", SQLType: "int"})
	if ColumnsEqual(base, diffLen) {
		t.Errorf("ColumnsEqual() = true for differing column counts")
	}
}

func TestTagForDataType(t *testing.T) {
	tests := map[string]types.TypeTag{
		"varchar":  types.TypeString,
		"int":      types.TypeLong,
		"bigint":   types.TypeLong,
		"decimal":  types.TypeDouble,
		"datetime": types.TypeDate,
		"blob":     types.TypeBlob,
		"year":     types.TypeInt,
	}
	for dataType, want := range tests {
		if got := tagForDataType(dataType); got != want {
			t.Errorf("tagForDataType(%q) = %v, want %v", dataType, got, want)
		}
	}
}
