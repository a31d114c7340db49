package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-rules/pkg/database"
)

// ScopeFunc acquires a database connection for read paths.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

// TxFunc runs fn in a transaction carried by the context passed to fn.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// NewScopeFunc creates a ScopeFunc that uses the given database.
func NewScopeFunc(db *database.DB) ScopeFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.WithScope(ctx)
		if err != nil {
			return nil, nil, err
		}
		return database.SetScope(ctx, scope), func() { scope.Close() }, nil
	}
}

// NewTxFunc creates a TxFunc that uses the given database.
func NewTxFunc(db *database.DB) TxFunc {
	return db.InTx
}
