// Пакет repository — доступ к таблице files в PostgreSQL через pgx.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound возвращается, когда запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// DBTX — минимальный интерфейс подключения к базе.
// Реализуется pgxpool.Pool и pgx.Tx, что позволяет
// использовать репозиторий внутри транзакций и в тестах.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
