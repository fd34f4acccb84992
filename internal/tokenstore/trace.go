package tokenstore

import (
	"context"
	"database/sql/driver"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// traceConnector opens sqlite3 connections that log every statement at debug
// level. Argument values are never logged because they carry tokens.
type traceConnector struct {
	dsn    string
	drv    *sqlite3.SQLiteDriver
	logger *slog.Logger
}

func newTraceConnector(dsn string, logger *slog.Logger) *traceConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &traceConnector{dsn: dsn, drv: &sqlite3.SQLiteDriver{}, logger: logger}
}

func (c *traceConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &traceConn{Conn: conn, logger: c.logger}, nil
}

func (c *traceConnector) Driver() driver.Driver {
	return c.drv
}

type traceConn struct {
	driver.Conn
	logger *slog.Logger
}

func (c *traceConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ex, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.trace("exec", query, len(args))
	return ex.ExecContext(ctx, query, args)
}

func (c *traceConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.trace("query", query, len(args))
	return q.QueryContext(ctx, query, args)
}

func (c *traceConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	c.trace("prepare", query, 0)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return c.Conn.Prepare(query)
}

func (c *traceConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.trace("begin", "", 0)
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for conns without BeginTx
	return c.Conn.Begin()
}

func (c *traceConn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *traceConn) trace(op, query string, nargs int) {
	c.logger.Debug("tokenstore: sql", "op", op, "sql", query, "args", nargs)
}
