package database

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/yanizio/stencil/internal/metrics"
)

// Session is a unit of work on the shared engine.  It checks out one pooled
// connection on first use and keeps it until Close, so reads, writes, and
// the transaction all run on that connection.  Iterating Read while
// updating each row needs no second connection, which matters for SQLite's
// single-connection pool.
//
// Writes are staged in a transaction begun lazily and ended by Commit;
// reads go through that transaction while it is open so they observe
// staged rows.
//
// A Session is not safe for concurrent use.  Close rolls back anything
// still pending and returns the connection to the pool.
type Session struct {
	db   *bun.DB
	conn *bun.Conn
	tx   *bun.Tx
}

// acquire returns the session connection, checking one out if needed.
func (s *Session) acquire(ctx context.Context) (*bun.Conn, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	if s.conn == nil {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		s.conn = &conn
	}
	return s.conn, nil
}

// begin returns the open transaction, starting one if needed.
func (s *Session) begin(ctx context.Context) (bun.IDB, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if s.tx == nil {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		s.tx = &tx
	}
	return s.tx, nil
}

func (s *Session) reader(ctx context.Context) (bun.IDB, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return conn, nil
}

// Pending reports whether staged writes await Commit.
func (s *Session) Pending() bool { return s.tx != nil }

// Commit ends the open transaction.  A failed commit is not retried and
// nothing is rolled back on the caller's behalf.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		metrics.DBCommitsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.DBCommitsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Rollback discards staged writes.  The connection stays checked out.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// Close rolls back and releases the connection, for defer.  The session
// may be reused afterwards; it checks out a fresh connection.
func (s *Session) Close() error {
	err := s.Rollback()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
		s.conn = nil
	}
	return err
}
