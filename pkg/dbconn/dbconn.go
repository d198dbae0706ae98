// Package dbconn is the DB Session component: a thin, typed execution
// surface over a MySQL connection (spec.md §4.3). All identifier
// interpolation is centralized in pkg/table's QuoteIdentifier; this package
// owns statement execution, retry classification, and locking.
package dbconn

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// MySQL error numbers that are considered transient and safe to retry,
// following teacher's pkg/dbconn.canRetryError classification.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
	errReadOnly        = 1290
	errQueryKilled     = 1836
)

// Config tunes connection and retry behavior. Socket DSNs
// (unix(/path/to/mysql.sock)/db) and TCP DSNs are both accepted, matching
// spec.md §1's "connecting via socket" requirement without restricting to
// it.
type Config struct {
	LockWaitTimeout       int
	InnodbLockWaitTimeout int
	MaxRetries            int
	MaxOpenConnections    int
	ForceKill             bool
}

func NewConfig() *Config {
	return &Config{
		LockWaitTimeout:       30,
		InnodbLockWaitTimeout: 3,
		MaxRetries:            5,
		MaxOpenConnections:    4,
	}
}

// New opens a *sql.DB from dsn (with ParseTime forced off), sizes its pool
// from cfg and pings it. It does not set session variables itself: the
// binary charset, UTC time zone and empty sql_mode are applied per
// transaction by standardizeTrx, in RetryableTransaction, Exec and
// NewTableLock.
func New(dsn string, cfg *Config) (*sql.DB, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	parsed.ParseTime = false
	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetConnMaxLifetime(3 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func canRetryError(err error) bool {
	me, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	switch me.Number {
	case errLockWaitTimeout, errDeadlock, errCannotConnect, errConnLost, errReadOnly, errQueryKilled:
		return true
	default:
		return false
	}
}

func standardizeTrx(ctx context.Context, trx *sql.Tx, cfg *Config) error {
	stmts := []string{
		"SET time_zone='+00:00'",
		"SET sql_mode=''",
		"SET NAMES 'binary'",
	}
	for _, s := range stmts {
		if _, err := trx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	_, err := trx.ExecContext(ctx, "SET innodb_lock_wait_timeout=?", cfg.InnodbLockWaitTimeout)
	if err != nil {
		return err
	}
	_, err = trx.ExecContext(ctx, "SET lock_wait_timeout=?", cfg.LockWaitTimeout)
	return err
}

func backoff(attempt int) {
	randFactor := attempt * rand.Intn(10) * int(time.Millisecond)
	time.Sleep(time.Duration(randFactor))
}

// RetryableTransaction runs stmts in a single transaction, retrying the
// whole transaction up to cfg.MaxRetries times on a transient error. It
// returns the total rows affected across all statements, following
// teacher's pkg/dbconn.RetryableTransaction.
func RetryableTransaction(ctx context.Context, db *sql.DB, cfg *Config, stmts ...string) (int64, error) {
	var err error
	var rowsAffected int64
RETRY:
	for i := 0; i < cfg.MaxRetries; i++ {
		var trx *sql.Tx
		if trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}); err != nil {
			backoff(i)
			continue RETRY
		}
		if err = standardizeTrx(ctx, trx, cfg); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue RETRY
		}
		rowsAffected = 0
		for _, stmt := range stmts {
			if stmt == "" {
				continue
			}
			var res sql.Result
			if res, err = trx.ExecContext(ctx, stmt); err != nil {
				if canRetryError(err) {
					_ = trx.Rollback()
					backoff(i)
					continue RETRY
				}
				_ = trx.Rollback()
				return rowsAffected, err
			}
			if n, e := res.RowsAffected(); e == nil {
				rowsAffected += n
			}
		}
		if err = trx.Commit(); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue RETRY
		}
		return rowsAffected, nil
	}
	return rowsAffected, err
}

// Exec runs a single statement with the session standardized in advance,
// without retry, following teacher's DBExec helper.
func Exec(ctx context.Context, db *sql.DB, cfg *Config, query string, args ...any) error {
	trx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := standardizeTrx(ctx, trx, cfg); err != nil {
		_ = trx.Rollback()
		return err
	}
	if _, err := trx.ExecContext(ctx, query, args...); err != nil {
		_ = trx.Rollback()
		return err
	}
	return trx.Commit()
}

// KillQuery issues KILL QUERY <thread-id> from a side session, the
// mechanism spec.md §5 specifies for aborting outstanding statements on
// cancellation: "Outstanding statements are aborted by issuing KILL QUERY
// <thread-id> from a side session."
func KillQuery(ctx context.Context, db *sql.DB, threadID int, logger *logrus.Logger) error {
	_, err := db.ExecContext(ctx, "KILL QUERY ?", threadID)
	if err != nil && logger != nil {
		logger.Warnf("kill query %d failed: %v", threadID, err)
	}
	return err
}

// ConnectionID returns the CONNECTION_ID() of a fresh connection pulled
// from db's pool, letting a side session later target it with KILL QUERY.
func ConnectionID(ctx context.Context, db *sql.DB) (int, error) {
	var id int
	err := db.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id)
	return id, err
}
