package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-rules/pkg/database"
)

// querier returns the connection bound to ctx by the caller's scope or transaction.
func querier(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok || scope.Conn == nil {
		return nil, fmt.Errorf("no database scope in context")
	}
	return scope.Conn, nil
}

// nullString converts an empty string to nil for nullable columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
