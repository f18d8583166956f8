// Package statsdump writes the per-run activity report: one line per
// table plus a summary, optionally zstd-compressed when the destination
// path ends in ".zst". Row data itself is never spooled to disk; the
// report is the one compressible artifact this system produces.
package statsdump

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Genoma-Agency/db-sync/internal/syncjob"
)

// Writer appends one line per table as results arrive, closing the
// underlying (possibly compressed) file when the run finishes.
type Writer struct {
	f   *os.File
	zw  *zstd.Encoder
	out io.Writer
}

// Open creates the report file at path, transparently wrapping it with a
// zstd encoder when path ends in ".zst".
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("statsdump: create %s: %w", path, err)
	}
	w := &Writer{f: f, out: f}
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("statsdump: init zstd encoder for %s: %w", path, err)
		}
		w.zw = zw
		w.out = zw
	}
	return w, nil
}

// WriteResult appends one table's outcome as a single line.
func (w *Writer) WriteResult(r syncjob.Result) error {
	status := "ok"
	if r.Err != nil {
		status = "error: " + r.Err.Error()
	}
	_, err := fmt.Fprintf(w.out, "%s\ttable=%s\tonly-src=%d\tcommon=%d\tonly-dst=%d\tinserted=%d\tupdated=%d\tdeleted=%d\trwcount=%d\tstatus=%s\n",
		time.Now().Format(time.RFC3339), r.Table, r.Counts.OnlySrc, r.Counts.Common, r.Counts.OnlyDest,
		r.Inserted, r.Updated, r.Deleted, r.RwCount, status)
	return err
}

// WriteSummary appends the run-level totals line once every table has
// been processed.
func (w *Writer) WriteSummary(results []syncjob.Result) error {
	var inserted, updated, deleted, failed int
	var rwCount int64
	for _, r := range results {
		inserted += r.Inserted
		updated += r.Updated
		deleted += r.Deleted
		rwCount += r.RwCount
		if r.Err != nil {
			failed++
		}
	}
	_, err := fmt.Fprintf(w.out, "%s\tsummary\ttables=%d\tfailed=%d\tinserted=%d\tupdated=%d\tdeleted=%d\trwcount=%d\n",
		time.Now().Format(time.RFC3339), len(results), failed, inserted, updated, deleted, rwCount)
	return err
}

// Close flushes and closes the encoder (if any) and the underlying file.
func (w *Writer) Close() error {
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("statsdump: close zstd encoder: %w", err)
		}
	}
	return w.f.Close()
}
