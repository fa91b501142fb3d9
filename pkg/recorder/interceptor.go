package recorder

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ngoyal88/sqlrecorder/pkg/sqlfmt"
	"github.com/ngoyal88/sqlrecorder/pkg/storage"
)

var errNamedUnsupported = errors.New("recorder: driver does not support named parameters")

var (
	registerMu sync.Mutex
	registered = make(map[string]string)
)

// Register wraps d and registers it with database/sql under
// "recorder-<name>", returning that name. Registering the same name again
// is a no-op, so the wrapper is installed exactly once per process.
func Register(name string, d driver.Driver) string {
	registerMu.Lock()
	defer registerMu.Unlock()

	if wrapped, ok := registered[name]; ok {
		return wrapped
	}
	wrapped := "recorder-" + name
	sql.Register(wrapped, Wrap(d))
	registered[name] = wrapped
	return wrapped
}

// Wrap returns a driver that behaves exactly like d and additionally reports
// every successful Exec and Query to the Recorder found in the call's context.
func Wrap(d driver.Driver) driver.Driver {
	return &interceptDriver{parent: d}
}

type interceptDriver struct {
	parent driver.Driver
}

func (d *interceptDriver) Open(name string) (driver.Conn, error) {
	c, err := d.parent.Open(name)
	if err != nil {
		return nil, err
	}
	return &interceptConn{Conn: c}, nil
}

func (d *interceptDriver) OpenConnector(name string) (driver.Connector, error) {
	if dc, ok := d.parent.(driver.DriverContext); ok {
		c, err := dc.OpenConnector(name)
		if err != nil {
			return nil, err
		}
		return &interceptConnector{parent: c, driver: d}, nil
	}
	return &interceptConnector{parent: dsnConnector{dsn: name, driver: d.parent}, driver: d}, nil
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c dsnConnector) Driver() driver.Driver                         { return c.driver }

type interceptConnector struct {
	parent driver.Connector
	driver *interceptDriver
}

func (c *interceptConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.parent.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &interceptConn{Conn: conn}, nil
}

func (c *interceptConnector) Driver() driver.Driver { return c.driver }

type interceptConn struct {
	driver.Conn
}

func (c *interceptConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	rec, ok := FromContext(ctx)
	if !ok {
		return execer.ExecContext(ctx, query, args)
	}

	start := time.Now()
	res, err := execer.ExecContext(ctx, query, args)
	end := time.Now()
	if err != nil {
		return nil, err
	}
	rec.capture(start, end, query, args, nil)
	return res, nil
}

func (c *interceptConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	rec, ok := FromContext(ctx)
	if !ok {
		return queryer.QueryContext(ctx, query, args)
	}

	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	end := time.Now()
	if err != nil {
		return nil, err
	}
	rec.capture(start, end, query, args, rows.Columns())
	return rows, nil
}

func (c *interceptConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		s   driver.Stmt
		err error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		s, err = p.PrepareContext(ctx, query)
	} else {
		s, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &interceptStmt{Stmt: s, query: query}, nil
}

func (c *interceptConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *interceptConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	return c.Conn.Begin() //nolint:staticcheck
}

func (c *interceptConn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *interceptConn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *interceptConn) IsValid() bool {
	if v, ok := c.Conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *interceptConn) CheckNamedValue(nv *driver.NamedValue) error {
	if chk, ok := c.Conn.(driver.NamedValueChecker); ok {
		return chk.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

type interceptStmt struct {
	driver.Stmt
	query string
}

func (s *interceptStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	rec, ok := FromContext(ctx)
	if !ok {
		return s.exec(ctx, args)
	}

	start := time.Now()
	res, err := s.exec(ctx, args)
	end := time.Now()
	if err != nil {
		return nil, err
	}
	rec.capture(start, end, s.query, args, nil)
	return res, nil
}

func (s *interceptStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rec, ok := FromContext(ctx)
	if !ok {
		return s.queryRows(ctx, args)
	}

	start := time.Now()
	rows, err := s.queryRows(ctx, args)
	end := time.Now()
	if err != nil {
		return nil, err
	}
	rec.capture(start, end, s.query, args, rows.Columns())
	return rows, nil
}

func (s *interceptStmt) exec(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		return e.ExecContext(ctx, args)
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	return s.Stmt.Exec(values) //nolint:staticcheck
}

func (s *interceptStmt) queryRows(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		return q.QueryContext(ctx, args)
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	return s.Stmt.Query(values) //nolint:staticcheck
}

func (s *interceptStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if chk, ok := s.Stmt.(driver.NamedValueChecker); ok {
		return chk.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func namedToValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, errNamedUnsupported
		}
		values[i] = a.Value
	}
	return values, nil
}

// capture turns one successful call into a Call and registers it.
func (r *Recorder) capture(start, end time.Time, query string, args []driver.NamedValue, columns []string) {
	call := storage.Call{
		Query:    sqlfmt.Format(Interpolate(query, args)),
		Time:     float64(start.UnixNano()) / float64(time.Second),
		Duration: round3(float64(end.Sub(start)) / float64(time.Millisecond)),
		Columns:  columns,
	}
	if r.captureStack {
		call.Stack = string(debug.Stack())
	}
	r.Register(call)
}
