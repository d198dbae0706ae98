package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	getLockTimeout  = 0 * time.Second
	refreshInterval = 1 * time.Minute
)

// MetadataLock serializes concurrent osc invocations against the same
// table using MySQL's GET_LOCK, following teacher's pkg/dbconn.MetadataLock.
// Teacher uses this to guard schema-level changes more broadly; here it
// guards the single-instance invariant a run needs: only one copy may be
// in progress for a given source table at a time, since a second copy
// would race to create the same shadow/delta table names.
//
// GET_LOCK/RELEASE_LOCK are session-scoped: the acquire, every refresh, and
// the release must all run on the same connection, so this type opens its
// own dedicated, single-connection *sql.DB for the lock's lifetime rather
// than borrowing a connection from the caller's pool (teacher dedicates a
// MaxOpenConnections=1 dbConn for exactly this reason).
type MetadataLock struct {
	cancel  context.CancelFunc
	closeCh chan error
	dbConn  *sql.DB
}

// NewMetadataLock opens a dedicated single-connection *sql.DB against dsn,
// acquires a named lock on it or fails immediately (getLockTimeout is
// zero), then refreshes it on that same connection until Close is called.
func NewMetadataLock(ctx context.Context, dsn string, lockName string, logger *logrus.Logger) (*MetadataLock, error) {
	if lockName == "" {
		return nil, errors.New("metadata lock name is empty")
	}
	if len(lockName) > 64 {
		return nil, fmt.Errorf("metadata lock name too long: %d, max is 64", len(lockName))
	}

	dbConfig := NewConfig()
	dbConfig.MaxOpenConnections = 1
	dbConn, err := New(dsn, dbConfig)
	if err != nil {
		return nil, err
	}

	getLock := func() error {
		var answer int
		if err := dbConn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, getLockTimeout.Seconds()).Scan(&answer); err != nil {
			return fmt.Errorf("could not acquire metadata lock %s: %w", lockName, err)
		}
		if answer == 0 {
			return fmt.Errorf("could not acquire metadata lock %s: held by another connection", lockName)
		}
		if answer != 1 {
			return fmt.Errorf("could not acquire metadata lock %s: GET_LOCK returned %d", lockName, answer)
		}
		return nil
	}

	logger.Infof("attempting to acquire metadata lock: %s", lockName)
	if err := getLock(); err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	logger.Infof("acquired metadata lock: %s", lockName)

	lockCtx, cancel := context.WithCancel(ctx)
	mdl := &MetadataLock{cancel: cancel, closeCh: make(chan error), dbConn: dbConn}
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-lockCtx.Done():
				logger.Warnf("releasing metadata lock: %s", lockName)
				mdl.closeCh <- dbConn.Close()
				return
			case <-ticker.C:
				if err := getLock(); err != nil {
					logger.Errorf("could not refresh metadata lock %s: %v", lockName, err)
				}
			}
		}
	}()
	return mdl, nil
}

// Close releases the lock by closing its dedicated connection, and waits
// for the refresh goroutine to exit.
func (m *MetadataLock) Close() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	return <-m.closeCh
}
