package rowbatch

import (
	"testing"

	"github.com/Genoma-Agency/db-sync/internal/types"
)

func TestKeyFirstReordersNonLeadingKey(t *testing.T) {
	b := New()
	// columns declared as: name, id (key), amount — key is not first.
	b.Append(types.Row{Fields: []types.Field{
		types.NewStringField(types.TypeString, "alice"),
		types.NewLongField(7),
		types.NewDoubleField(1.5),
	}})

	b.KeyFirst([]int{1})

	got := b.Rows[0].Fields
	if len(got) != 3 {
		t.Fatalf("KeyFirst changed field count: got %d, want 3", len(got))
	}
	if got[0].AsInt() != 7 {
		t.Errorf("KeyFirst()[0] = %v, want the key field (id=7) first", got[0])
	}
	if got[1].String() != "alice" || got[2].AsDouble() != 1.5 {
		t.Errorf("KeyFirst() non-key suffix = [%v %v], want [alice 1.5]", got[1], got[2])
	}
}

func TestRotateAfterKeyFirstMatchesUpdateShape(t *testing.T) {
	b := New()
	b.Append(types.Row{Fields: []types.Field{
		types.NewLongField(7),                            // key
		types.NewStringField(types.TypeString, "alice"),   // non-key
		types.NewDoubleField(1.5),                         // non-key
	}})

	b.Rotate(1) // key already first here; rotate moves it to the end for SET...WHERE binding

	got := b.Rows[0].Fields
	if got[0].String() != "alice" || got[1].AsDouble() != 1.5 {
		t.Errorf("Rotate() SET-order prefix = [%v %v], want [alice 1.5]", got[0], got[1])
	}
	if got[2].AsInt() != 7 {
		t.Errorf("Rotate() WHERE-order suffix = %v, want key field (id=7) last", got[2])
	}
}

func TestClearResetsState(t *testing.T) {
	b := New()
	b.Append(types.Row{Fields: []types.Field{types.NewLongField(1)}})
	b.HasMD5 = true
	b.Clear()
	if len(b.Rows) != 0 || b.Names != nil || b.HasMD5 {
		t.Errorf("Clear() left state behind: rows=%d names=%v hasMD5=%v", len(b.Rows), b.Names, b.HasMD5)
	}
}
