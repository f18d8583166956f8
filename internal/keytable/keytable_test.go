package keytable

import (
	"testing"

	"github.com/Genoma-Agency/db-sync/internal/types"
)

func load(k *KeyTable, vals ...int64) {
	for _, v := range vals {
		k.LoadRow([]string{"id"}, []types.Field{types.NewLongField(v)})
	}
}

func TestSortPresorted(t *testing.T) {
	k := New()
	load(k, 1, 2, 3, 4)
	k.Sort("test")
	for i := 0; i < k.RowCount(); i++ {
		if got := k.FieldsAt(i)[0].AsInt(); got != int64(i+1) {
			t.Errorf("FieldsAt(%d)[0] = %d, want %d", i, got, i+1)
		}
	}
}

func TestSortOutOfOrder(t *testing.T) {
	k := New()
	load(k, 4, 1, 3, 2)
	k.Sort("test")
	want := []int64{1, 2, 3, 4}
	for i, w := range want {
		if got := k.FieldsAt(i)[0].AsInt(); got != w {
			t.Errorf("FieldsAt(%d)[0] = %d, want %d", i, got, w)
		}
	}
}

func TestCompareAtMismatchedTagsUnordered(t *testing.T) {
	a := New()
	a.LoadRow([]string{"id"}, []types.Field{types.NewLongField(1)})
	a.Sort("a")

	b := New()
	b.LoadRow([]string{"id"}, []types.Field{types.NewStringField(types.TypeString, "1")})
	b.Sort("b")

	if got := a.CompareAt(0, b, 0); got != types.Unordered {
		t.Errorf("CompareAt across mismatched tags = %v, want Unordered", got)
	}
}

func TestFlagsIterateAndRevert(t *testing.T) {
	k := New()
	load(k, 1, 2, 3)
	k.Sort("test")

	k.SetFlag(0, true)
	k.SetFlag(2, true)

	if got := k.CountFlag(true); got != 2 {
		t.Errorf("CountFlag(true) = %d, want 2", got)
	}
	flagged := k.Iterate(true)
	if len(flagged) != 2 || flagged[0] != 0 || flagged[1] != 2 {
		t.Errorf("Iterate(true) = %v, want [0 2]", flagged)
	}

	k.RevertFlags()
	if got := k.CountFlag(true); got != 1 {
		t.Errorf("after RevertFlags, CountFlag(true) = %d, want 1", got)
	}
	if !k.FlagAt(1) {
		t.Errorf("after RevertFlags, position 1 (originally unflagged) should now be flagged")
	}
}

func TestCheckDetectsKeyMismatch(t *testing.T) {
	k := New()
	load(k, 1, 2)
	k.Sort("test")

	if err := k.Check(0, []types.Field{types.NewLongField(1)}); err != nil {
		t.Errorf("Check(0, matching key) = %v, want nil", err)
	}
	if err := k.Check(0, []types.Field{types.NewLongField(99)}); err == nil {
		t.Errorf("Check(0, mismatched key) = nil, want an error")
	}
}
