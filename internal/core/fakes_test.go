package core

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeStagingDB models one staging table with transactional semantics close
// enough to Postgres: statements after an error fail until the transaction
// is rolled back to a savepoint, and only Commit publishes changes.
type fakeStagingDB struct {
	mu sync.Mutex

	rows [][]string

	beginErr    error
	truncateErr error
	deleteErr   error
	copyErr     error
	commitErr   error

	statements     []string
	rowsBeforeCopy int
	commits        int
	rollbacks      int
}

func newFakeStagingDB(existing ...[]string) *fakeStagingDB {
	return &fakeStagingDB{rows: existing}
}

func (db *fakeStagingDB) Begin(ctx context.Context) (StagingTx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeStagingTx{db: db, work: append([][]string(nil), db.rows...)}, nil
}

func (db *fakeStagingDB) snapshot() [][]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([][]string(nil), db.rows...)
}

type fakeStagingTx struct {
	db       *fakeStagingDB
	work     [][]string
	saved    [][]string
	aborted  bool
	finished bool
}

var errTxAborted = &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted, commands ignored until end of transaction block"}

func (tx *fakeStagingTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.mu.Lock()
	tx.db.statements = append(tx.db.statements, sql)
	tx.db.mu.Unlock()

	if tx.aborted && !strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT") {
		return pgconn.CommandTag{}, errTxAborted
	}

	switch {
	case strings.HasPrefix(sql, "SAVEPOINT"):
		tx.saved = append([][]string(nil), tx.work...)
	case strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT"):
		tx.work = append([][]string(nil), tx.saved...)
		tx.aborted = false
	case strings.HasPrefix(sql, "TRUNCATE"):
		if tx.db.truncateErr != nil {
			tx.aborted = true
			return pgconn.CommandTag{}, tx.db.truncateErr
		}
		tx.work = nil
	case strings.HasPrefix(sql, "DELETE FROM"):
		if tx.db.deleteErr != nil {
			tx.aborted = true
			return pgconn.CommandTag{}, tx.db.deleteErr
		}
		tx.work = nil
	}
	return pgconn.CommandTag{}, nil
}

func (tx *fakeStagingTx) CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tx.db.mu.Lock()
	tx.db.statements = append(tx.db.statements, sql)
	tx.db.rowsBeforeCopy = len(tx.work)
	tx.db.mu.Unlock()

	if tx.aborted {
		return 0, errTxAborted
	}
	if tx.db.copyErr != nil {
		tx.aborted = true
		return 0, tx.db.copyErr
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		tx.aborted = true
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	tx.work = append(tx.work, records[1:]...)
	return int64(len(records) - 1), nil
}

func (tx *fakeStagingTx) Commit(ctx context.Context) error {
	if tx.finished {
		return pgx.ErrTxClosed
	}
	tx.finished = true
	if tx.aborted {
		return pgx.ErrTxCommitRollback
	}
	if tx.db.commitErr != nil {
		return tx.db.commitErr
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.rows = tx.work
	tx.db.commits++
	return nil
}

func (tx *fakeStagingTx) Rollback(ctx context.Context) error {
	if tx.finished {
		return pgx.ErrTxClosed
	}
	tx.finished = true
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return nil
}

func (db *fakeStagingDB) ran(prefix string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range db.statements {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

var errConnReset = errors.New("connection reset by peer")
