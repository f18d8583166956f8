// Package diffengine implements the merge-diff over two sorted KeyTables:
// classification into source-only / common / target-only, and the
// MD5-based update-compare over common keys.
package diffengine

import (
	"context"
	"fmt"

	"github.com/Genoma-Agency/db-sync/internal/keytable"
	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/syncerr"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

// Counts is the classification reported after Diff. Diff fills OnlySrc,
// Common and OnlyDest and leaves NeedUpdate at zero; UpdateCompare returns
// its count separately and does not set NeedUpdate either.
type Counts struct {
	OnlySrc    int
	Common     int
	OnlyDest   int
	NeedUpdate int
}

// Diff runs the O(n+m) merge walk, marking src/dst flags in place. Both
// KeyTables must already be sorted; every row is visited exactly once.
func Diff(src, dst *keytable.KeyTable) (Counts, error) {
	i, j := 0, 0
	n, m := src.RowCount(), dst.RowCount()
	var c Counts
	for i < n && j < m {
		ord := src.CompareAt(i, dst, j)
		switch ord {
		case types.Less:
			src.SetFlag(i, true)
			c.OnlySrc++
			i++
		case types.Greater:
			dst.SetFlag(j, true)
			c.OnlyDest++
			j++
		case types.Equivalent:
			c.Common++
			i++
			j++
		default:
			return c, &syncerr.TypeMismatch{
				Context: fmt.Sprintf("src[%d]/dst[%d]", i, j),
				Err:     fmt.Errorf("mismatched column type tags"),
			}
		}
	}
	for ; i < n; i++ {
		src.SetFlag(i, true)
		c.OnlySrc++
	}
	for ; j < m; j++ {
		dst.SetFlag(j, true)
		c.OnlyDest++
	}
	return c, nil
}

// UpdateCompare runs the MD5-tail content compare over common keys: after
// Diff, src.flags are inverted so only common keys are true; this walks
// those keys in windows of compareBulk, fetches each side's MD5 tail via a
// bulk select limited to the window's key tuples, and re-marks
// src.flags[i] = (srcMd5 != dstMd5). fetchSrcMD5/fetchDstMD5 are supplied
// by the caller since they need a live connection bound to a real session.
func UpdateCompare(ctx context.Context, src, dst *keytable.KeyTable, compareBulk int,
	fetchSrcMD5, fetchDstMD5 func(ctx context.Context, keys [][]types.Field, bulk int) (map[string]string, error)) (int, error) {

	src.RevertFlags()
	common := src.Iterate(true)
	needUpdate := 0
	for start := 0; start < len(common); start += compareBulk {
		end := start + compareBulk
		if end > len(common) {
			end = len(common)
		}
		window := common[start:end]
		keys := make([][]types.Field, len(window))
		for n, pos := range window {
			keys[n] = src.FieldsAt(pos)
		}

		type result struct {
			md5 map[string]string
			err error
		}
		srcCh := make(chan result, 1)
		dstCh := make(chan result, 1)
		go func() {
			md5, err := fetchSrcMD5(ctx, keys, compareBulk)
			srcCh <- result{md5, err}
		}()
		go func() {
			md5, err := fetchDstMD5(ctx, keys, compareBulk)
			dstCh <- result{md5, err}
		}()
		srcRes := <-srcCh
		dstRes := <-dstCh
		if srcRes.err != nil {
			return needUpdate, fmt.Errorf("diffengine: fetch source MD5 window: %w", srcRes.err)
		}
		if dstRes.err != nil {
			return needUpdate, fmt.Errorf("diffengine: fetch target MD5 window: %w", dstRes.err)
		}

		for _, pos := range window {
			key := keyString(src.FieldsAt(pos))
			srcMD5, srcOK := srcRes.md5[key]
			dstMD5, dstOK := dstRes.md5[key]
			diverge := !srcOK || !dstOK || srcMD5 != dstMD5
			src.SetFlag(pos, diverge)
			if diverge {
				needUpdate++
			}
		}
	}
	logging.Debugf("diffengine: update-compare found %d/%d keys needing update", needUpdate, len(common))
	return needUpdate, nil
}

// keyString renders a PK tuple into a map key for matching MD5 results back
// to their originating key position — the bulk IN-select's row order is not
// guaranteed relative to the requested tuples, so results are always
// matched back by value, never by position.
func keyString(fields []types.Field) string {
	s := ""
	for i, f := range fields {
		if i > 0 {
			s += "\x00"
		}
		if f.IsNull {
			s += "\x01"
		} else {
			s += f.String()
		}
	}
	return s
}
