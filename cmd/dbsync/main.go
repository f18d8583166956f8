// Command dbsync synchronizes one schema's tables from a source MySQL
// server onto a target MySQL server, copying source-only rows and,
// optionally, updating changed rows and deleting target-only rows.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Genoma-Agency/db-sync/internal/config"
	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/statsdump"
	"github.com/Genoma-Agency/db-sync/internal/syncjob"
)

// arrayFlags collects repeated occurrences of the same flag (-table) into
// a slice.
type arrayFlags []string

func (a *arrayFlags) String() string { return strings.Join(*a, ",") }
func (a *arrayFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	mode := flag.String("mode", "copy", "copy|sync")
	update := flag.Bool("update", false, "compare and update changed common rows")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	noFail := flag.Bool("nofail", false, "continue with remaining tables after a table fails")
	disableBinlog := flag.Bool("disablebinlog", false, "set SQL_LOG_BIN=0 on the target session")
	guessPK := flag.Bool("guess-pk", false, "fall back to a unique index when a table has no primary key")

	srcHost := flag.String("src-host", "127.0.0.1", "source host")
	srcPort := flag.Int("src-port", 3306, "source port")
	srcUser := flag.String("src-user", "", "source user")
	srcPwd := flag.String("src-pwd", "", "source password")
	srcSchema := flag.String("src-schema", "", "source schema")

	dstHost := flag.String("dst-host", "127.0.0.1", "target host")
	dstPort := flag.Int("dst-port", 3306, "target port")
	dstUser := flag.String("dst-user", "", "target user")
	dstPwd := flag.String("dst-pwd", "", "target password")
	dstSchema := flag.String("dst-schema", "", "target schema")

	var tables arrayFlags
	flag.Var(&tables, "table", "table to sync (repeatable; default: every base table in -src-schema)")

	jobs := flag.Int("jobs", config.DefaultJobs, "worker count (0 = hardware concurrency)")
	pkBulk := flag.Int("pk-bulk", config.DefaultPkBulk, "key-load page size")
	compareBulk := flag.Int("compare-bulk", config.DefaultCompareBulk, "update-compare window size")
	modifyBulk := flag.Int("modify-bulk", config.DefaultModifyBulk, "insert/update/bulk-select window size")
	statsFile := flag.String("statsfile", "", "write a per-table activity report here (.zst suffix compresses it)")

	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	debug := flag.Bool("debug", false, "shorthand for -log-level debug")
	trace := flag.Bool("trace", false, "shorthand for -log-level trace")

	flag.Parse()

	debugOn := *debug || *logLevel == "debug"
	traceOn := *trace || *logLevel == "trace"
	logging.Configure(debugOn, traceOn)

	cfg, err := buildConfig(*mode, *update, *dryRun, *noFail, *disableBinlog, *guessPK,
		*srcHost, *srcPort, *srcUser, *srcPwd, *srcSchema,
		*dstHost, *dstPort, *dstUser, *dstPwd, *dstSchema,
		tables, *jobs, *pkBulk, *compareBulk, *modifyBulk, *statsFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dbsync:", err)
		flag.Usage()
		return 1
	}

	exitCode := 0
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				if fe, ok := rec.(*logging.FatalError); ok {
					fmt.Fprintln(os.Stderr, "dbsync: fatal:", fe.Error())
					exitCode = fe.Code
					return
				}
				panic(rec)
			}
		}()
		exitCode = execute(cfg)
	}()
	return exitCode
}

func buildConfig(mode string, update, dryRun, noFail, disableBinlog, guessPK bool,
	srcHost string, srcPort int, srcUser, srcPwd, srcSchema string,
	dstHost string, dstPort int, dstUser, dstPwd, dstSchema string,
	tables arrayFlags, jobs, pkBulk, compareBulk, modifyBulk int, statsFile string) (config.OperationConfig, error) {

	var m config.Mode
	switch mode {
	case "copy":
		m = config.ModeCopy
	case "sync":
		m = config.ModeSync
	default:
		return config.OperationConfig{}, fmt.Errorf("invalid -mode %q, must be copy or sync", mode)
	}
	if srcSchema == "" || dstSchema == "" {
		return config.OperationConfig{}, fmt.Errorf("-src-schema and -dst-schema are required")
	}
	if srcUser == "" || dstUser == "" {
		return config.OperationConfig{}, fmt.Errorf("-src-user and -dst-user are required")
	}
	if pkBulk <= 0 || compareBulk <= 0 || modifyBulk <= 0 {
		return config.OperationConfig{}, fmt.Errorf("-pk-bulk, -compare-bulk and -modify-bulk must all be positive")
	}

	return config.OperationConfig{
		Mode:          m,
		UpdateEnabled: update,
		DryRun:        dryRun,
		DisableBinlog: disableBinlog,
		NoFail:        noFail,
		GuessPK:       guessPK,
		PkBulk:        pkBulk,
		CompareBulk:   compareBulk,
		ModifyBulk:    modifyBulk,
		TablesFilter:  tables,
		Jobs:          jobs,
		StatsFile:     statsFile,
		Source: config.Endpoint{Host: srcHost, Port: srcPort, User: srcUser, Pwd: srcPwd, Schema: srcSchema},
		Target: config.Endpoint{Host: dstHost, Port: dstPort, User: dstUser, Pwd: dstPwd, Schema: dstSchema},
	}, nil
}

func dsn(e config.Endpoint) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false&multiStatements=false",
		e.User, e.Pwd, e.Host, e.Port, e.Schema)
}

func openPool(e config.Endpoint) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn(e))
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// execute opens both connection pools, validates table metadata, runs the
// scheduler and writes the stats report, mapping every failure onto a
// distinct process exit code.
func execute(cfg config.OperationConfig) int {
	srcDB, err := openPool(cfg.Source)
	if err != nil {
		logging.FatalCodef(10, "cannot open source %s:%d/%s: %v", cfg.Source.Host, cfg.Source.Port, cfg.Source.Schema, err)
		return 10
	}
	defer srcDB.Close()

	dstDB, err := openPool(cfg.Target)
	if err != nil {
		logging.FatalCodef(11, "cannot open target %s:%d/%s: %v", cfg.Target.Host, cfg.Target.Port, cfg.Target.Schema, err)
		return 11
	}
	defer dstDB.Close()

	mgr := syncjob.NewManager(cfg, srcDB, dstDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tables, err := mgr.Prepare(ctx)
	if err != nil {
		logging.FatalCodef(30, "metadata check failed: %v", err)
		return 30
	}
	if len(tables) == 0 {
		logging.Warnf("no tables to process")
		return 0
	}

	var statsWriter *statsdump.Writer
	if cfg.StatsFile != "" {
		statsWriter, err = statsdump.Open(cfg.StatsFile)
		if err != nil {
			logging.Errorf("cannot open -statsfile %s: %v", cfg.StatsFile, err)
			return 40
		}
		defer statsWriter.Close()
	}

	results, err := mgr.Run(ctx)
	if err != nil {
		logging.Errorf("run failed: %v", err)
		return 100
	}

	failed := false
	for _, r := range results {
		if statsWriter != nil {
			if err := statsWriter.WriteResult(r); err != nil {
				logging.Warnf("statsfile write failed for %s: %v", r.Table, err)
			}
		}
		if r.Err != nil {
			failed = true
			logging.Errorf("table %s: %v", r.Table, r.Err)
		}
	}
	if statsWriter != nil {
		if err := statsWriter.WriteSummary(results); err != nil {
			logging.Warnf("statsfile summary write failed: %v", err)
		}
	}

	if failed {
		return 100
	}
	return 0
}
