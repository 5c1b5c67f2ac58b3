// Package storage implements the persistence layer backing the engine's
// credential vault, historical candle archive, and backtest result history.
// All SQL goes through parameterized queries against jackc/pgx/v5; nothing
// here ever string-concatenates a value into a statement.
package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PoolInterface is the subset of *pgxpool.Pool each store depends on, so
// tests can substitute pgxmock.
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// EncryptedSecret is the at-rest representation of one CredentialVault
// entry. The three fields are stored as separate hex columns rather than one
// concatenated blob, so a schema migration or manual inspection never has to
// re-split a packed value.
type EncryptedSecret struct {
	CiphertextHex string
	IVHex         string
	SaltHex       string
	Algorithm     string
}
