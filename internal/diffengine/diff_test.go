package diffengine

import (
	"context"
	"testing"

	"github.com/Genoma-Agency/db-sync/internal/keytable"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

func buildSorted(vals ...int64) *keytable.KeyTable {
	k := keytable.New()
	for _, v := range vals {
		k.LoadRow([]string{"id"}, []types.Field{types.NewLongField(v)})
	}
	k.Sort("test")
	return k
}

func TestDiffClassifiesSrcCommonDst(t *testing.T) {
	src := buildSorted(1, 2, 3, 5)
	dst := buildSorted(2, 3, 4)

	counts, err := Diff(src, dst)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if counts.OnlySrc != 2 || counts.Common != 2 || counts.OnlyDest != 1 {
		t.Errorf("Diff() counts = %+v, want OnlySrc=2 Common=2 OnlyDest=1", counts)
	}

	onlySrc := src.Iterate(true)
	if len(onlySrc) != 2 {
		t.Fatalf("src.Iterate(true) length = %d, want 2", len(onlySrc))
	}
	got0, got1 := src.FieldsAt(onlySrc[0])[0].AsInt(), src.FieldsAt(onlySrc[1])[0].AsInt()
	if got0 != 1 || got1 != 5 {
		t.Errorf("only-src keys = [%d %d], want [1 5]", got0, got1)
	}

	onlyDst := dst.Iterate(true)
	if len(onlyDst) != 1 || dst.FieldsAt(onlyDst[0])[0].AsInt() != 4 {
		t.Errorf("only-dst keys = %v, want [4]", onlyDst)
	}
}

func TestDiffEmptySides(t *testing.T) {
	src := buildSorted()
	dst := buildSorted(1, 2)
	counts, err := Diff(src, dst)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if counts.OnlySrc != 0 || counts.OnlyDest != 2 {
		t.Errorf("Diff() with empty source = %+v, want OnlySrc=0 OnlyDest=2", counts)
	}
}

func TestDiffUnorderedTagsErrors(t *testing.T) {
	src := keytable.New()
	src.LoadRow([]string{"id"}, []types.Field{types.NewLongField(1)})
	src.Sort("src")

	dst := keytable.New()
	dst.LoadRow([]string{"id"}, []types.Field{types.NewStringField(types.TypeString, "1")})
	dst.Sort("dst")

	if _, err := Diff(src, dst); err == nil {
		t.Errorf("Diff() across mismatched column type tags should return an error")
	}
}

func TestUpdateCompareMarksOnlyDivergentCommonKeys(t *testing.T) {
	src := buildSorted(1, 2, 3)
	dst := buildSorted(1, 2, 3)

	if _, err := Diff(src, dst); err != nil {
		t.Fatalf("Diff: %v", err)
	}

	md5s := map[int64]string{1: "aaa", 2: "bbb", 3: "ccc"}
	dstMd5s := map[int64]string{1: "aaa", 2: "zzz", 3: "ccc"} // key 2 diverges

	fetch := func(m map[int64]string) func(ctx context.Context, keys [][]types.Field, bulk int) (map[string]string, error) {
		return func(ctx context.Context, keys [][]types.Field, bulk int) (map[string]string, error) {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[keyString(k)] = m[k[0].AsInt()]
			}
			return out, nil
		}
	}

	needUpdate, err := UpdateCompare(context.Background(), src, dst, 10, fetch(md5s), fetch(dstMd5s))
	if err != nil {
		t.Fatalf("UpdateCompare: %v", err)
	}
	if needUpdate != 1 {
		t.Errorf("UpdateCompare() needUpdate = %d, want 1", needUpdate)
	}

	toUpdate := src.Iterate(true)
	if len(toUpdate) != 1 || src.FieldsAt(toUpdate[0])[0].AsInt() != 2 {
		t.Errorf("rows flagged for update = %v, want only key 2", toUpdate)
	}
}
