// Package dbconn is the per-worker facade around one database session: it
// exposes the five prepared-statement families (key-load, bulk-select,
// insert, update, delete), transaction framing and parameter binding.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Genoma-Agency/db-sync/internal/logging"
	"github.com/Genoma-Agency/db-sync/internal/rowbatch"
	"github.com/Genoma-Agency/db-sync/internal/schema"
	"github.com/Genoma-Agency/db-sync/internal/syncerr"
	"github.com/Genoma-Agency/db-sync/internal/types"
)

// Connection is one worker's facade around a single *sql.Conn for one
// table. TableJob holds one source Connection and one target Connection.
type Connection struct {
	conn *sql.Conn
	meta schema.TableMetadata

	lastErr error

	keyLoadPlain *sql.Stmt
	keyLoadMD5   *sql.Stmt

	bulkSelectWidth int
	bulkSelectStmt  *sql.Stmt

	md5SelectWidth int
	md5SelectStmt  *sql.Stmt

	insertStmt *sql.Stmt
	updateStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

func New(conn *sql.Conn, meta schema.TableMetadata) *Connection {
	return &Connection{conn: conn, meta: meta}
}

// LastError is the last driver-level error recorded by apply.
func (c *Connection) LastError() error { return c.lastErr }

// apply is the uniform failure-handling envelope: run fn, catch its error,
// record it as LastError, always run cleanup regardless of outcome, and
// report success.
func (c *Connection) apply(cleanup func(), fn func() error) bool {
	err := fn()
	if cleanup != nil {
		cleanup()
	}
	if err != nil {
		c.lastErr = err
		return false
	}
	return true
}

func nonKeyColumnNames(meta schema.TableMetadata) []string {
	isPK := make(map[int]bool, len(meta.PKIndex))
	for _, i := range meta.PKIndex {
		isPK[i] = true
	}
	var out []string
	for i, col := range meta.Columns {
		if !isPK[i] {
			out = append(out, col.Name)
		}
	}
	return out
}

// --- 1. Key-load ------------------------------------------------------

// keyLoadSQL builds:
//
//	SELECT `pk1`,...,`pkK`[, MD5(CONCAT(...)) AS `#MD5@CHECK#`]
//	FROM `T` LIMIT ? OFFSET ?
func (c *Connection) keyLoadSQL(withMD5 bool) string {
	pkCols := quoteIdents(c.meta.PKNames())
	sel := strings.Join(pkCols, ",")
	if withMD5 {
		sel = sel + "," + md5Expr(nonKeyColumnNames(c.meta))
	}
	return fmt.Sprintf("SELECT %s FROM %s LIMIT ? OFFSET ?", sel, c.meta.FullName())
}

func (c *Connection) prepareKeyLoad(ctx context.Context, withMD5 bool) (*sql.Stmt, error) {
	if withMD5 {
		if c.keyLoadMD5 != nil {
			return c.keyLoadMD5, nil
		}
	} else if c.keyLoadPlain != nil {
		return c.keyLoadPlain, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, c.keyLoadSQL(withMD5))
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare key-load for %s", c.meta.FullName()), err)
	}
	if withMD5 {
		c.keyLoadMD5 = stmt
	} else {
		c.keyLoadPlain = stmt
	}
	return stmt, nil
}

// KeyLoadPage runs one page of the key-load query, called repeatedly with
// growing offset by TableJob until a short page arrives.
func (c *Connection) KeyLoadPage(ctx context.Context, offset, limit int, withMD5 bool) (*sql.Rows, error) {
	stmt, err := c.prepareKeyLoad(ctx, withMD5)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit, offset)
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("key-load page for %s (offset=%d limit=%d)", c.meta.FullName(), offset, limit), err)
	}
	return rows, nil
}

// --- 2. Bulk SELECT by key tuples --------------------------------------

// bulkSelectSQL builds `SELECT c1,...,cN FROM T WHERE (pk1,...,pkK) IN ((?,...) x bulk)`,
// naming every column explicitly in declaration order.
func (c *Connection) bulkSelectSQL(bulk int) string {
	colNames := make([]string, len(c.meta.Columns))
	for i, col := range c.meta.Columns {
		colNames[i] = col.Name
	}
	pkCols := quoteIdents(c.meta.PKNames())
	tuple := "(" + strings.Repeat("?,", len(pkCols)-1) + "?)"
	tuples := make([]string, bulk)
	for i := range tuples {
		tuples[i] = tuple
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE (%s) IN (%s)",
		strings.Join(quoteIdents(colNames), ","), c.meta.FullName(), strings.Join(pkCols, ","), strings.Join(tuples, ","))
}

func (c *Connection) prepareBulkSelect(ctx context.Context, bulk int) (*sql.Stmt, error) {
	if c.bulkSelectStmt != nil && c.bulkSelectWidth == bulk {
		return c.bulkSelectStmt, nil
	}
	if c.bulkSelectStmt != nil {
		c.bulkSelectStmt.Close()
	}
	stmt, err := c.conn.PrepareContext(ctx, c.bulkSelectSQL(bulk))
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare bulk select (width=%d) for %s", bulk, c.meta.FullName()), err)
	}
	c.bulkSelectStmt = stmt
	c.bulkSelectWidth = bulk
	return stmt, nil
}

// nullSentinelBind is bound to every padding parameter when a short window
// is widened to the prepared statement's fixed tuple count.
var nullSentinelBind any = nil

// BulkSelectByKeys runs one windowed bulk select: always binds exactly
// bulk*K placeholders; short windows are padded with NULL. Returned rows
// are not guaranteed to be in the order of the requested keys.
func (c *Connection) BulkSelectByKeys(ctx context.Context, keys [][]types.Field, bulk int) (*rowbatch.RowBatch, error) {
	stmt, err := c.prepareBulkSelect(ctx, bulk)
	if err != nil {
		return nil, err
	}
	pkCount := len(c.meta.PKIndex)
	args := make([]any, 0, bulk*pkCount)
	for _, key := range keys {
		for _, f := range key {
			args = append(args, bindParam(f))
		}
	}
	for i := len(keys); i < bulk; i++ {
		for j := 0; j < pkCount; j++ {
			args = append(args, nullSentinelBind)
		}
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("bulk select (width=%d) on %s", bulk, c.meta.FullName()), err)
	}
	defer rows.Close()

	batch := rowbatch.New()
	colNames := make([]string, len(c.meta.Columns))
	for i, col := range c.meta.Columns {
		colNames[i] = col.Name
	}
	tags := c.meta.ColumnTags()
	for rows.Next() {
		if err := batch.LoadRow(colNames, tags, rows, false); err != nil {
			return nil, fmt.Errorf("dbconn: scan bulk select row on %s: %w", c.meta.FullName(), err)
		}
	}
	return batch, rows.Err()
}

func bindParam(f types.Field) any {
	if f.IsNull {
		return nullSentinelBind
	}
	return f.String()
}

// md5ByKeysSQL builds the MD5-tail key-load query limited by key-IN-tuples:
// `SELECT pk1,...,pkK, MD5(...) AS alias FROM T WHERE (pk1,...,pkK) IN
// ((?,...) x bulk)`.
func (c *Connection) md5ByKeysSQL(bulk int) string {
	pkCols := quoteIdents(c.meta.PKNames())
	sel := strings.Join(pkCols, ",") + "," + md5Expr(nonKeyColumnNames(c.meta))
	tuple := "(" + strings.Repeat("?,", len(pkCols)-1) + "?)"
	tuples := make([]string, bulk)
	for i := range tuples {
		tuples[i] = tuple
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE (%s) IN (%s)", sel, c.meta.FullName(), strings.Join(pkCols, ","), strings.Join(tuples, ","))
}

func (c *Connection) prepareMD5ByKeys(ctx context.Context, bulk int) (*sql.Stmt, error) {
	if c.md5SelectStmt != nil && c.md5SelectWidth == bulk {
		return c.md5SelectStmt, nil
	}
	if c.md5SelectStmt != nil {
		c.md5SelectStmt.Close()
	}
	stmt, err := c.conn.PrepareContext(ctx, c.md5ByKeysSQL(bulk))
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare md5-by-keys (width=%d) for %s", bulk, c.meta.FullName()), err)
	}
	c.md5SelectStmt = stmt
	c.md5SelectWidth = bulk
	return stmt, nil
}

// MD5ByKeys fetches the MD5 tail for a window of common keys. The result
// is keyed by the tuple's rendered PK value (see diffengine.keyString)
// rather than by position, since the bulk IN-select's row order is not
// guaranteed relative to the requested tuples.
func (c *Connection) MD5ByKeys(ctx context.Context, keys [][]types.Field, bulk int) (map[string]string, error) {
	stmt, err := c.prepareMD5ByKeys(ctx, bulk)
	if err != nil {
		return nil, err
	}
	pkCount := len(c.meta.PKIndex)
	args := make([]any, 0, bulk*pkCount)
	for _, key := range keys {
		for _, f := range key {
			args = append(args, bindParam(f))
		}
	}
	for i := len(keys); i < bulk; i++ {
		for j := 0; j < pkCount; j++ {
			args = append(args, nullSentinelBind)
		}
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("md5-by-keys (width=%d) on %s", bulk, c.meta.FullName()), err)
	}
	defer rows.Close()

	tags := c.meta.PKTags()
	out := make(map[string]string, len(keys))
	for rows.Next() {
		pk, md5, err := scanPKAndMD5(rows, tags)
		if err != nil {
			return nil, fmt.Errorf("dbconn: scan md5-by-keys row on %s: %w", c.meta.FullName(), err)
		}
		out[renderKey(pk)] = md5
	}
	return out, rows.Err()
}

func scanPKAndMD5(rows *sql.Rows, tags []types.TypeTag) ([]types.Field, string, error) {
	n := len(tags)
	dest := make([]any, n+1)
	vals := make([]sql.NullString, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	var md5Val sql.NullString
	dest[n] = &md5Val
	if err := rows.Scan(dest...); err != nil {
		return nil, "", err
	}
	pk := make([]types.Field, n)
	for i := 0; i < n; i++ {
		f, err := types.FieldFromDriverValue(tags[i], vals[i].String, vals[i].Valid)
		if err != nil {
			return nil, "", err
		}
		pk[i] = f
	}
	return pk, md5Val.String, nil
}

// renderKey must match diffengine.keyString's encoding exactly, since
// TableJob matches MD5ByKeys results against keys it built with that
// function.
func renderKey(fields []types.Field) string {
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

// --- 3. INSERT ----------------------------------------------------------

func (c *Connection) insertSQL() string {
	colNames := make([]string, len(c.meta.Columns))
	for i, col := range c.meta.Columns {
		colNames[i] = col.Name
	}
	placeholders := strings.Repeat("?,", len(colNames)-1) + "?"
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.meta.FullName(), strings.Join(quoteIdents(colNames), ","), placeholders)
}

func (c *Connection) prepareInsert(ctx context.Context) (*sql.Stmt, error) {
	if c.insertStmt != nil {
		return c.insertStmt, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, c.insertSQL())
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare insert for %s", c.meta.FullName()), err)
	}
	c.insertStmt = stmt
	return stmt, nil
}

// Insert runs one INSERT for a full row, within tx. cleanup runs on every
// exit path, per the apply envelope discipline.
func (c *Connection) Insert(ctx context.Context, tx *sql.Tx, row types.Row, cleanup func()) bool {
	return c.apply(cleanup, func() error {
		stmt, err := c.prepareInsert(ctx)
		if err != nil {
			return err
		}
		txStmt := tx.StmtContext(ctx, stmt)
		defer txStmt.Close()
		args := make([]any, len(row.Fields))
		for i, f := range row.Fields {
			args[i] = bindParam(f)
		}
		_, err = txStmt.ExecContext(ctx, args...)
		if err != nil {
			return syncerr.NewDriverError(fmt.Sprintf("insert into %s", c.meta.FullName()), err)
		}
		return nil
	})
}

// --- 4. UPDATE ------------------------------------------------------------

func (c *Connection) updateSQL() string {
	nonKey := nonKeyColumnNames(c.meta)
	sets := make([]string, len(nonKey))
	for i, n := range nonKey {
		sets[i] = quoteIdent(n) + "=?"
	}
	pk := c.meta.PKNames()
	wheres := make([]string, len(pk))
	for i, n := range pk {
		wheres[i] = quoteIdent(n) + "=?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", c.meta.FullName(), strings.Join(sets, ","), strings.Join(wheres, " AND "))
}

func (c *Connection) prepareUpdate(ctx context.Context) (*sql.Stmt, error) {
	if c.updateStmt != nil {
		return c.updateStmt, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, c.updateSQL())
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare update for %s", c.meta.FullName()), err)
	}
	c.updateStmt = stmt
	return stmt, nil
}

// Update runs one UPDATE. row must already be rotated: non-key
// fields first (matching SET order), key fields last (matching WHERE
// order) — see rowbatch.KeyFirst + rowbatch.Rotate.
func (c *Connection) Update(ctx context.Context, tx *sql.Tx, row types.Row, cleanup func()) bool {
	return c.apply(cleanup, func() error {
		stmt, err := c.prepareUpdate(ctx)
		if err != nil {
			return err
		}
		txStmt := tx.StmtContext(ctx, stmt)
		defer txStmt.Close()
		args := make([]any, len(row.Fields))
		for i, f := range row.Fields {
			args[i] = bindParam(f)
		}
		_, err = txStmt.ExecContext(ctx, args...)
		if err != nil {
			return syncerr.NewDriverError(fmt.Sprintf("update %s", c.meta.FullName()), err)
		}
		return nil
	})
}

// --- 5. DELETE ------------------------------------------------------------

func (c *Connection) deleteSQL() string {
	pk := c.meta.PKNames()
	wheres := make([]string, len(pk))
	for i, n := range pk {
		wheres[i] = quoteIdent(n) + "=?"
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", c.meta.FullName(), strings.Join(wheres, " AND "))
}

func (c *Connection) prepareDelete(ctx context.Context) (*sql.Stmt, error) {
	if c.deleteStmt != nil {
		return c.deleteStmt, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, c.deleteSQL())
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("prepare delete for %s", c.meta.FullName()), err)
	}
	c.deleteStmt = stmt
	return stmt, nil
}

// Delete runs one DELETE bound from key fields, not a full Row.
func (c *Connection) Delete(ctx context.Context, tx *sql.Tx, key []types.Field, cleanup func()) bool {
	return c.apply(cleanup, func() error {
		stmt, err := c.prepareDelete(ctx)
		if err != nil {
			return err
		}
		txStmt := tx.StmtContext(ctx, stmt)
		defer txStmt.Close()
		args := make([]any, len(key))
		for i, f := range key {
			args[i] = bindParam(f)
		}
		_, err = txStmt.ExecContext(ctx, args...)
		if err != nil {
			return syncerr.NewDriverError(fmt.Sprintf("delete from %s", c.meta.FullName()), err)
		}
		return nil
	})
}

// --- transactions -----------------------------------------------------

// Begin brackets one write batch in a transaction: one batch is one
// bulk-loaded source slice. Reads stay autocommit.
func (c *Connection) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerr.NewDriverError(fmt.Sprintf("begin tx on %s", c.meta.FullName()), err)
	}
	return tx, nil
}

// SetSessionTuning applies target-only session settings: UNIQUE_CHECKS=0,
// FOREIGN_KEY_CHECKS=0 and, when requested, SQL_LOG_BIN=0.
// These are session-scoped and expire with the worker's connection.
func SetSessionTuning(ctx context.Context, conn *sql.Conn, disableBinlog bool) error {
	stmts := []string{
		"SET SESSION UNIQUE_CHECKS=0",
		"SET SESSION FOREIGN_KEY_CHECKS=0",
	}
	if disableBinlog {
		stmts = append(stmts, "SET SESSION SQL_LOG_BIN=0")
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			return syncerr.NewDriverError(fmt.Sprintf("session tuning %q", s), err)
		}
	}
	return nil
}

// SetSessionHygiene applies the ambient session setup that keeps
// charset/collation and timestamps consistent across source and target,
// regardless of mode.
func SetSessionHygiene(ctx context.Context, conn *sql.Conn) error {
	stmts := []string{
		"SET NAMES utf8mb4 COLLATE utf8mb4_general_ci",
		"SET TIME_ZONE='+00:00'",
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			return syncerr.NewDriverError(fmt.Sprintf("session hygiene %q", s), err)
		}
	}
	return nil
}

// Close releases every prepared statement held by this Connection. Actual
// session teardown (conn.Close) is the caller's responsibility; prepared
// statements are released with the owning session.
func (c *Connection) Close() {
	for _, stmt := range []*sql.Stmt{c.keyLoadPlain, c.keyLoadMD5, c.bulkSelectStmt, c.md5SelectStmt, c.insertStmt, c.updateStmt, c.deleteStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				logging.Debugf("dbconn: close statement on %s: %v", c.meta.FullName(), err)
			}
		}
	}
}

// Metadata exposes the table metadata this connection was built for.
func (c *Connection) Metadata() schema.TableMetadata { return c.meta }
