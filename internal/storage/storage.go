package storage

import (
	"context"
	"errors"

	"golang.org/x/xerrors"

	"raffle/internal/custody"
	"raffle/internal/logger"
	"raffle/internal/lottery"
)

var log = logger.Named("storage")

var ErrNoState = errors.New("storage: no lottery persisted")

// Storage persists the complete lottery state and the custody deposit book.
// Save replaces what was stored before in one transaction; Load returns
// ErrNoState on an empty database. LoadBook returns an empty book until the
// first SaveBook.
type Storage interface {
	Load(ctx context.Context) (*lottery.State, error)
	Save(ctx context.Context, state *lottery.State) error
	LoadBook(ctx context.Context) (custody.Book, error)
	SaveBook(ctx context.Context, book custody.Book) error
	Close() error
}

type Kind = string

const (
	SqliteKind Kind = "sqlite"
	BoltKind   Kind = "bolt"
)

// Open picks the backend by kind.
func Open(kind Kind, path string) (Storage, error) {
	switch kind {
	case BoltKind:
		return NewBoltStorage(path)
	case SqliteKind, "":
		return NewSqliteStorage(path)
	default:
		return nil, xerrors.Errorf("storage: unknown kind %q", kind)
	}
}
