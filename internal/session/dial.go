package session

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"ballotdesk/internal/platform/config"

	_ "modernc.org/sqlite"
)

// Driver names accepted by DB_DRIVER. Each is registered with database/sql by
// the imports above.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// openDB builds a pooled handle for cfg. It does not touch the network; the
// first probe establishes the connection.
func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAlive}

	var db *sql.DB
	switch cfg.Driver {
	case DriverPgx:
		connCfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse pgx dsn: %w", err)
		}
		connCfg.ConnectTimeout = cfg.ConnectTimeout
		connCfg.DialFunc = dialer.DialContext
		if cfg.SocketTimeout > 0 {
			connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.SocketTimeout.Milliseconds(), 10)
		}
		db = stdlib.OpenDB(*connCfg)
	case DriverPostgres:
		connector, err := pq.NewConnector(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		connector.Dialer(keepAliveDialer{d: dialer, socketTimeout: cfg.SocketTimeout})
		db = sql.OpenDB(connector)
	case DriverSQLite:
		var err error
		db, err = sql.Open(DriverSQLite, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under the pool.
		cfg.MaxOpenConns = 1
	default:
		return nil, fmt.Errorf("driver %q not supported", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdle > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
		db.SetConnMaxLifetime(4 * cfg.ConnMaxIdle)
	}
	return db, nil
}

// keepAliveDialer adapts net.Dialer to lib/pq's Dialer and DialerContext,
// applying a per-read/write deadline when socketTimeout is set.
type keepAliveDialer struct {
	d             *net.Dialer
	socketTimeout time.Duration
}

func (k keepAliveDialer) Dial(network, address string) (net.Conn, error) {
	return k.DialContext(context.Background(), network, address)
}

func (k keepAliveDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return k.DialContext(ctx, network, address)
}

func (k keepAliveDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := k.d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if k.socketTimeout <= 0 {
		return conn, nil
	}
	return &deadlineConn{Conn: conn, timeout: k.socketTimeout}, nil
}

// deadlineConn extends the deadline before every read and write, the socket
// timeout equivalent for a pooled connection.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
