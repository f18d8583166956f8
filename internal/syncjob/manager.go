package syncjob

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Genoma-Agency/db-sync/internal/config"
	"github.com/Genoma-Agency/db-sync/internal/dbconn"
	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/schema"
	"github.com/Genoma-Agency/db-sync/internal/syncerr"
)

// Manager is the scheduler over a run's table set: it resolves the table
// list, validates both sides' metadata agree, and fans TableJobs out
// across a worker pool, using a mutex-guarded slice and atomic counters
// for the shared pending-table state.
type Manager struct {
	cfg config.OperationConfig

	srcDB *sql.DB
	dstDB *sql.DB

	mu      sync.Mutex
	pending []string

	running atomic.Bool

	// rwCount is the run-wide row read/write counter: every worker adds
	// to it as its TableJob completes batches, so it only ever grows.
	rwCount atomic.Int64

	resMu   sync.Mutex
	results []Result
}

// NewManager builds a Manager over two already-open connection pools.
func NewManager(cfg config.OperationConfig, srcDB, dstDB *sql.DB) *Manager {
	m := &Manager{cfg: cfg, srcDB: srcDB, dstDB: dstDB}
	m.running.Store(true)
	return m
}

// Prepare resolves the table set (either cfg.TablesFilter or every base
// table on the source side) and validates that column descriptors match
// on both sides before any worker starts. Tables failing validation are
// reported as errors but do not abort Prepare unless cfg.NoFail is
// false, in which case the first mismatch aborts.
func (m *Manager) Prepare(ctx context.Context) ([]string, error) {
	srcConn, err := m.srcDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncjob: acquire source metadata connection: %w", err)
	}
	defer srcConn.Close()
	dstConn, err := m.dstDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncjob: acquire target metadata connection: %w", err)
	}
	defer dstConn.Close()

	srcRepo := schema.NewRepository(srcConn)
	dstRepo := schema.NewRepository(dstConn)

	tables := m.cfg.TablesFilter
	if len(tables) == 0 {
		tables, err = srcRepo.ListBaseTables(ctx, m.cfg.Source.Schema)
		if err != nil {
			return nil, fmt.Errorf("syncjob: list source tables: %w", err)
		}
	}
	sort.Strings(tables)

	var ok []string
	for _, t := range tables {
		srcMeta, err := srcRepo.LoadTable(ctx, m.cfg.Source.Schema, t)
		if err != nil {
			if m.cfg.NoFail {
				logging.Warnf("syncjob: skipping %s, source metadata load failed: %v", t, err)
				continue
			}
			return nil, err
		}
		dstMeta, err := dstRepo.LoadTable(ctx, m.cfg.Target.Schema, t)
		if err != nil {
			if m.cfg.NoFail {
				logging.Warnf("syncjob: skipping %s, target metadata load failed: %v", t, err)
				continue
			}
			return nil, err
		}

		if len(srcMeta.PKIndex) == 0 && m.cfg.GuessPK {
			if err := srcRepo.GuessPrimaryKey(ctx, &srcMeta); err != nil {
				logging.Warnf("syncjob: %s has no primary key and guessing failed: %v", t, err)
			}
		}
		if len(srcMeta.PKIndex) == 0 {
			logging.Warnf("syncjob: skipping %s, no primary key", t)
			continue
		}

		if !schema.ColumnsEqual(srcMeta.Columns, dstMeta.Columns) {
			mismatch := &syncerr.MetadataMismatch{Table: t, Err: fmt.Errorf("column descriptors diverge between source and target")}
			if m.cfg.NoFail {
				logging.Warnf("syncjob: skipping %s: %v", t, mismatch)
				continue
			}
			return nil, mismatch
		}
		if srcMeta.HasTrigger {
			logging.Warnf("syncjob: %s has triggers on the source; sync does not replay trigger side effects on the target", t)
		}

		ok = append(ok, t)
	}

	m.pending = ok
	return ok, nil
}

// takeNextTable pops one table name off the shared pending set, safe for
// concurrent worker access.
func (m *Manager) takeNextTable() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	t := m.pending[0]
	m.pending = m.pending[1:]
	return t, true
}

func (m *Manager) recordResult(r Result) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	m.results = append(m.results, r)
}

// workerCount resolves the configured job count to an actual worker
// count, never exceeding the number of tables to process.
func (m *Manager) workerCount(tableCount int) int {
	jobs := m.cfg.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if jobs > tableCount {
		jobs = tableCount
	}
	if jobs < 1 {
		jobs = 1
	}
	return jobs
}

// Run installs a SIGINT/SIGTERM/SIGQUIT handler that flips the running
// flag to false and cancels ctx, dispatches workerCount() workers
// draining the pending table set, and blocks until every worker exits.
// On signal, no new table is started and in-flight tables abandon their
// current chunk, rolling back its uncommitted transaction.
func (m *Manager) Run(ctx context.Context) ([]Result, error) {
	if len(m.pending) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Warnf("syncjob: received %s, abandoning in-flight chunks", sig)
			m.running.Store(false)
			cancel()
		case <-ctx.Done():
		}
	}()

	workers := m.workerCount(len(m.pending))
	logging.Infof("syncjob: starting %d worker(s) for %d table(s)", workers, len(m.pending))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.runWorker(ctx, id)
		}(w)
	}
	wg.Wait()

	logging.Infof("syncjob: %d row(s) read/written across %d table(s)", m.rwCount.Load(), len(m.results))

	m.resMu.Lock()
	defer m.resMu.Unlock()
	return m.results, nil
}

// RWCount reports the run-wide row read/write total accumulated so far.
// It only ever grows: every TableJob adds to it as its own batches
// complete, so a run cancelled mid-table still reports real activity
// rather than resetting to zero.
func (m *Manager) RWCount() int64 { return m.rwCount.Load() }

func (m *Manager) runWorker(ctx context.Context, id int) {
	for m.running.Load() {
		table, ok := m.takeNextTable()
		if !ok {
			return
		}
		res := m.runOneTable(ctx, id, table)
		m.recordResult(res)
		if res.Err != nil {
			logging.Errorf("syncjob: table %s failed: %v", table, res.Err)
			if !m.cfg.NoFail {
				m.running.Store(false)
				return
			}
		}
	}
}

func (m *Manager) runOneTable(ctx context.Context, workerID int, table string) Result {
	srcRaw, err := m.srcDB.Conn(ctx)
	if err != nil {
		return Result{Table: table, Err: fmt.Errorf("worker %d: acquire source connection: %w", workerID, err)}
	}
	defer srcRaw.Close()
	dstRaw, err := m.dstDB.Conn(ctx)
	if err != nil {
		return Result{Table: table, Err: fmt.Errorf("worker %d: acquire target connection: %w", workerID, err)}
	}
	defer dstRaw.Close()

	if err := dbconn.SetSessionHygiene(ctx, srcRaw); err != nil {
		return Result{Table: table, Err: err}
	}
	if err := dbconn.SetSessionHygiene(ctx, dstRaw); err != nil {
		return Result{Table: table, Err: err}
	}
	if err := dbconn.SetSessionTuning(ctx, dstRaw, m.cfg.DisableBinlog); err != nil {
		return Result{Table: table, Err: err}
	}

	srcRepo := schema.NewRepository(srcRaw)
	dstRepo := schema.NewRepository(dstRaw)
	srcMeta, err := srcRepo.LoadTable(ctx, m.cfg.Source.Schema, table)
	if err != nil {
		return Result{Table: table, Err: err}
	}
	if len(srcMeta.PKIndex) == 0 && m.cfg.GuessPK {
		_ = srcRepo.GuessPrimaryKey(ctx, &srcMeta)
	}
	dstMeta, err := dstRepo.LoadTable(ctx, m.cfg.Target.Schema, table)
	if err != nil {
		return Result{Table: table, Err: err}
	}

	srcConn := dbconn.New(srcRaw, srcMeta)
	dstConn := dbconn.New(dstRaw, dstMeta)
	defer srcConn.Close()
	defer dstConn.Close()

	job := NewTableJob(table, srcConn, dstConn, m.cfg, m.rwCount.Add)
	return job.Run(ctx)
}
