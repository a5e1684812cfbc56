package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("repository: not found")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
