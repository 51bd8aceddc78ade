package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RecordingTx is a pgx.Tx that records executed statements. Methods not
// overridden panic through the nil embedded interface.
type RecordingTx struct {
	pgx.Tx

	// FailOn makes Exec fail for the first statement containing it.
	FailOn  string
	ExecErr error

	Statements []string
	Committed  bool
	RolledBack bool
}

// Exec implements pgx.Tx.
func (tx *RecordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.Statements = append(tx.Statements, sql)
	if tx.FailOn != "" && strings.Contains(sql, tx.FailOn) {
		return pgconn.CommandTag{}, tx.ExecErr
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

// Commit implements pgx.Tx.
func (tx *RecordingTx) Commit(context.Context) error {
	tx.Committed = true
	return nil
}

// Rollback implements pgx.Tx. Rolling back after commit is a no-op, as in pgx.
func (tx *RecordingTx) Rollback(context.Context) error {
	if !tx.Committed {
		tx.RolledBack = true
	}
	return nil
}

// FakeBeginner hands out RecordingTx values and keeps them for inspection.
type FakeBeginner struct {
	mu      sync.Mutex
	FailOn  string
	ExecErr error
	Txs     []*RecordingTx
}

// Begin implements the Begin method of pgxpool.Pool.
func (b *FakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx := &RecordingTx{FailOn: b.FailOn, ExecErr: b.ExecErr}
	b.Txs = append(b.Txs, tx)
	return tx, nil
}
