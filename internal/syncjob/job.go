// Package syncjob implements the per-table pipeline and the scheduler
// that fans it out across workers.
package syncjob

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Genoma-Agency/db-sync/internal/config"
	"github.com/Genoma-Agency/db-sync/internal/dbconn"
	"github.com/Genoma-Agency/db-sync/internal/diffengine"
	"github.com/Genoma-Agency/db-sync/internal/keytable"
	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/syncerr"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

// Result is the per-table outcome reported back to the scheduler.
type Result struct {
	Table    string
	Counts   diffengine.Counts
	Inserted int
	Updated  int
	Deleted  int
	RwCount  int64
	Err      error
}

// TableJob drives one table through key-load, diff, add, update and
// delete.
type TableJob struct {
	Name string

	Src *dbconn.Connection
	Dst *dbconn.Connection

	Cfg config.OperationConfig

	srcKeys *keytable.KeyTable
	dstKeys *keytable.KeyTable

	// rwAdd feeds every read/write batch into the run-wide counter; it
	// is the scheduler's atomic.Int64.Add, so its return value is
	// ignored here. localRW mirrors the same total for this table
	// alone, surfaced on Result.
	rwAdd   func(int64) int64
	localRW atomic.Int64
}

// NewTableJob builds a job for one table. Each side loads and binds its
// keys with its own Connection's metadata (callers have already checked
// ColumnsEqual). rwAdd receives the row count of every batch read or
// written; pass nil to skip run-wide accumulation.
func NewTableJob(name string, src, dst *dbconn.Connection, cfg config.OperationConfig, rwAdd func(int64) int64) *TableJob {
	return &TableJob{Name: name, Src: src, Dst: dst, Cfg: cfg, rwAdd: rwAdd}
}

// addRW accounts n more rows read or written, both into this table's own
// total and into the run-wide counter.
func (j *TableJob) addRW(n int) {
	if n == 0 {
		return
	}
	j.localRW.Add(int64(n))
	if j.rwAdd != nil {
		j.rwAdd(int64(n))
	}
}

// Run executes the full pipeline for this table, returning a Result that
// is never nil even on failure — Err records the first fatal error.
func (j *TableJob) Run(ctx context.Context) (res Result) {
	res = Result{Table: j.Name}
	defer func() { res.RwCount = j.localRW.Load() }()

	j.srcKeys = keytable.New()
	j.dstKeys = keytable.New()

	if err := j.loadKeys(ctx); err != nil {
		if ctx.Err() != nil {
			res.Err = &syncerr.Cancelled{Table: j.Name, Err: err}
			return res
		}
		res.Err = fmt.Errorf("syncjob[%s]: key load: %w", j.Name, err)
		return res
	}

	j.srcKeys.Sort(j.Name + "/src")
	j.dstKeys.Sort(j.Name + "/dst")

	counts, err := diffengine.Diff(j.srcKeys, j.dstKeys)
	if err != nil {
		res.Err = fmt.Errorf("syncjob[%s]: diff: %w", j.Name, err)
		return res
	}
	res.Counts = counts
	logging.Infof("syncjob[%s]: only-src=%d common=%d only-dst=%d", j.Name, counts.OnlySrc, counts.Common, counts.OnlyDest)

	inserted, err := j.runAdd(ctx)
	res.Inserted = inserted
	if err != nil {
		res.Err = fmt.Errorf("syncjob[%s]: add: %w", j.Name, err)
		if !j.Cfg.NoFail {
			return res
		}
	}

	if j.Cfg.UpdateEnabled {
		updated, err := j.runUpdate(ctx)
		res.Updated = updated
		if err != nil {
			res.Err = fmt.Errorf("syncjob[%s]: update: %w", j.Name, err)
			if !j.Cfg.NoFail {
				return res
			}
		}
	}

	if j.Cfg.Mode == config.ModeSync {
		deleted, err := j.runDelete(ctx)
		res.Deleted = deleted
		if err != nil {
			res.Err = fmt.Errorf("syncjob[%s]: delete: %w", j.Name, err)
		}
	}

	return res
}

// loadKeys runs the two sides' key-load pagination concurrently and waits
// for both. It does not sort; Run sorts the two KeyTables, one after the
// other, once loadKeys returns.
func (j *TableJob) loadKeys(ctx context.Context) error {
	type outcome struct {
		err error
	}
	srcCh := make(chan outcome, 1)
	dstCh := make(chan outcome, 1)

	go func() {
		srcCh <- outcome{loadOneSide(ctx, j.Src, j.srcKeys, j.Cfg.PkBulk, j.addRW)}
	}()
	go func() {
		dstCh <- outcome{loadOneSide(ctx, j.Dst, j.dstKeys, j.Cfg.PkBulk, j.addRW)}
	}()

	srcRes := <-srcCh
	dstRes := <-dstCh
	if srcRes.err != nil {
		return fmt.Errorf("source side: %w", srcRes.err)
	}
	if dstRes.err != nil {
		return fmt.Errorf("target side: %w", dstRes.err)
	}
	return nil
}

func loadOneSide(ctx context.Context, conn *dbconn.Connection, kt *keytable.KeyTable, pageSize int, addRW func(int)) error {
	meta := conn.Metadata()
	pkNames := meta.PKNames()
	pkTags := meta.PKTags()
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := conn.KeyLoadPage(ctx, offset, pageSize, false)
		if err != nil {
			return err
		}
		n := 0
		for rows.Next() {
			pk, _, err := keytable.Scan(rows, pkTags, false)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan key-load row: %w", err)
			}
			kt.LoadRow(pkNames, pk)
			n++
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		addRW(n)
		if n < pageSize {
			return nil
		}
		offset += pageSize
	}
}

// keysForWindow gathers the PK field tuples for a contiguous window of
// sorted positions out of kt.
func keysForWindow(kt *keytable.KeyTable, window []int) [][]types.Field {
	keys := make([][]types.Field, len(window))
	for i, pos := range window {
		keys[i] = kt.FieldsAt(pos)
	}
	return keys
}

// rowKey extracts a row's primary-key fields, in declaration order, from a
// full-width row using the table's PK column positions.
func rowKey(row types.Row, pkIdx []int) []types.Field {
	out := make([]types.Field, len(pkIdx))
	for i, idx := range pkIdx {
		out[i] = row.Fields[idx]
	}
	return out
}

// runAdd does a chunked bulk-select of source-only rows, inserting each
// chunk into the target under its own transaction.
func (j *TableJob) runAdd(ctx context.Context) (int, error) {
	onlySrc := j.srcKeys.Iterate(true)
	ticker := newProgressTicker(j.Name, "add", len(onlySrc))
	if len(onlySrc) == 0 {
		ticker.Done()
		return 0, nil
	}

	pkIdx := j.Src.Metadata().PKIndex
	inserted := 0
	bulk := j.Cfg.ModifyBulk

	for start := 0; start < len(onlySrc); start += bulk {
		if err := ctx.Err(); err != nil {
			ticker.Done()
			return inserted, &syncerr.Cancelled{Table: j.Name, Err: err}
		}
		end := start + bulk
		if end > len(onlySrc) {
			end = len(onlySrc)
		}
		window := onlySrc[start:end]
		keys := keysForWindow(j.srcKeys, window)

		batch, err := j.Src.BulkSelectByKeys(ctx, keys, bulk)
		if err != nil {
			if j.Cfg.NoFail {
				logging.Warnf("syncjob[%s]: add window [%d,%d) bulk select failed, skipping: %v", j.Name, start, end, err)
				continue
			}
			return inserted, err
		}
		j.addRW(len(batch.Rows))

		if j.Cfg.DryRun {
			inserted += len(batch.Rows)
			ticker.Add(len(window))
			continue
		}

		tx, err := j.Dst.Begin(ctx)
		if err != nil {
			if j.Cfg.NoFail {
				logging.Warnf("syncjob[%s]: add window [%d,%d) begin failed, skipping: %v", j.Name, start, end, err)
				continue
			}
			return inserted, err
		}
		failed, cancelled := false, false
		for _, row := range batch.Rows {
			if err := ctx.Err(); err != nil {
				cancelled = true
				break
			}
			if !j.Dst.Insert(ctx, tx, row, nil) {
				failed = true
				if !j.Cfg.NoFail {
					break
				}
				logging.Warnf("syncjob[%s]: insert %v failed, continuing (nofail): %v", j.Name, rowKey(row, pkIdx), j.Dst.LastError())
			} else {
				inserted++
				j.addRW(1)
			}
		}
		if cancelled {
			tx.Rollback()
			ticker.Done()
			return inserted, &syncerr.Cancelled{Table: j.Name, Err: ctx.Err()}
		}
		if failed && !j.Cfg.NoFail {
			tx.Rollback()
			return inserted, &syncerr.PolicyFailure{Table: j.Name, Err: fmt.Errorf("add window [%d,%d): %w", start, end, j.Dst.LastError())}
		}
		if err := tx.Commit(); err != nil {
			return inserted, fmt.Errorf("add window [%d,%d) commit: %w", start, end, err)
		}
		ticker.Add(len(window))
		ticker.ChunkBoundary()
	}
	ticker.Done()
	return inserted, nil
}

// runUpdate narrows the common key set to rows whose MD5 tail diverges
// via UpdateCompare, then each surviving window is
// bulk-selected fresh from the source, reshaped KeyFirst+Rotate, and
// applied with one UPDATE per row, chunked into transactions exactly like
// runAdd.
func (j *TableJob) runUpdate(ctx context.Context) (int, error) {
	common := j.srcKeys.CountFlag(false)
	needUpdate, err := diffengine.UpdateCompare(ctx, j.srcKeys, j.dstKeys, j.Cfg.CompareBulk, j.Src.MD5ByKeys, j.Dst.MD5ByKeys)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &syncerr.Cancelled{Table: j.Name, Err: err}
		}
		return 0, fmt.Errorf("update-compare: %w", err)
	}
	logging.Infof("syncjob[%s]: %d/%d common keys need update", j.Name, needUpdate, common)

	toUpdate := j.srcKeys.Iterate(true)
	ticker := newProgressTicker(j.Name, "update", len(toUpdate))
	if len(toUpdate) == 0 {
		ticker.Done()
		return 0, nil
	}

	pkIdx := j.Src.Metadata().PKIndex
	updated := 0
	bulk := j.Cfg.ModifyBulk

	for start := 0; start < len(toUpdate); start += bulk {
		if err := ctx.Err(); err != nil {
			ticker.Done()
			return updated, &syncerr.Cancelled{Table: j.Name, Err: err}
		}
		end := start + bulk
		if end > len(toUpdate) {
			end = len(toUpdate)
		}
		window := toUpdate[start:end]
		keys := keysForWindow(j.srcKeys, window)

		batch, err := j.Src.BulkSelectByKeys(ctx, keys, bulk)
		if err != nil {
			if j.Cfg.NoFail {
				logging.Warnf("syncjob[%s]: update window [%d,%d) bulk select failed, skipping: %v", j.Name, start, end, err)
				continue
			}
			return updated, err
		}
		batch.KeyFirst(pkIdx)
		batch.Rotate(len(pkIdx))
		j.addRW(len(batch.Rows))

		if j.Cfg.DryRun {
			updated += len(batch.Rows)
			ticker.Add(len(window))
			continue
		}

		tx, err := j.Dst.Begin(ctx)
		if err != nil {
			if j.Cfg.NoFail {
				logging.Warnf("syncjob[%s]: update window [%d,%d) begin failed, skipping: %v", j.Name, start, end, err)
				continue
			}
			return updated, err
		}
		failed, cancelled := false, false
		for _, row := range batch.Rows {
			if err := ctx.Err(); err != nil {
				cancelled = true
				break
			}
			if !j.Dst.Update(ctx, tx, row, nil) {
				failed = true
				if !j.Cfg.NoFail {
					break
				}
				logging.Warnf("syncjob[%s]: update failed, continuing (nofail): %v", j.Name, j.Dst.LastError())
			} else {
				updated++
				j.addRW(1)
			}
		}
		if cancelled {
			tx.Rollback()
			ticker.Done()
			return updated, &syncerr.Cancelled{Table: j.Name, Err: ctx.Err()}
		}
		if failed && !j.Cfg.NoFail {
			tx.Rollback()
			return updated, &syncerr.PolicyFailure{Table: j.Name, Err: fmt.Errorf("update window [%d,%d): %w", start, end, j.Dst.LastError())}
		}
		if err := tx.Commit(); err != nil {
			return updated, fmt.Errorf("update window [%d,%d) commit: %w", start, end, err)
		}
		ticker.Add(len(window))
		ticker.ChunkBoundary()
	}
	ticker.Done()
	return updated, nil
}

// runDelete deletes target-only keys from the destination (sync mode
// only), one transaction per ModifyBulk-sized window so a cancellation
// mid-run only loses the current window, not the whole delete set.
func (j *TableJob) runDelete(ctx context.Context) (int, error) {
	onlyDst := j.dstKeys.Iterate(true)
	ticker := newProgressTicker(j.Name, "delete", len(onlyDst))
	if len(onlyDst) == 0 {
		ticker.Done()
		return 0, nil
	}
	if j.Cfg.DryRun {
		ticker.Add(len(onlyDst))
		ticker.Done()
		return len(onlyDst), nil
	}

	bulk := j.Cfg.ModifyBulk
	deleted := 0
	for start := 0; start < len(onlyDst); start += bulk {
		if err := ctx.Err(); err != nil {
			ticker.Done()
			return deleted, &syncerr.Cancelled{Table: j.Name, Err: err}
		}
		end := start + bulk
		if end > len(onlyDst) {
			end = len(onlyDst)
		}
		window := onlyDst[start:end]

		tx, err := j.Dst.Begin(ctx)
		if err != nil {
			return deleted, err
		}
		failed, cancelled := false, false
		for _, pos := range window {
			if err := ctx.Err(); err != nil {
				cancelled = true
				break
			}
			key := j.dstKeys.FieldsAt(pos)
			if !j.Dst.Delete(ctx, tx, key, nil) {
				failed = true
				if !j.Cfg.NoFail {
					break
				}
				logging.Warnf("syncjob[%s]: delete %v failed, continuing (nofail): %v", j.Name, key, j.Dst.LastError())
				continue
			}
			deleted++
			j.addRW(1)
			ticker.Add(1)
		}
		if cancelled {
			tx.Rollback()
			ticker.Done()
			return deleted, &syncerr.Cancelled{Table: j.Name, Err: ctx.Err()}
		}
		if failed && !j.Cfg.NoFail {
			tx.Rollback()
			return deleted, &syncerr.PolicyFailure{Table: j.Name, Err: fmt.Errorf("delete window [%d,%d): %w", start, end, j.Dst.LastError())}
		}
		if err := tx.Commit(); err != nil {
			return deleted, fmt.Errorf("delete window [%d,%d) commit: %w", start, end, err)
		}
		ticker.ChunkBoundary()
	}
	ticker.Done()
	return deleted, nil
}
