package repository

import (
	"context"
	"errors"
	"fmt"

	"jobboard_auth/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrRecordNotFound is returned by lookups that must find a row (locks, updates)
var ErrRecordNotFound = errors.New("record not found")

// DBTX is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner is a DBTX that can open transactions
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles the repositories and runs them inside a transaction when asked
type Store interface {
	Users() UserRepository
	Tokens() TokenRepository
	WithTx(ctx context.Context, fn func(Store) error) error
}

type store struct {
	db     TxBeginner
	users  UserRepository
	tokens TokenRepository
}

// NewStore creates a Store over a connection pool
func NewStore(db TxBeginner) Store {
	return &store{
		db:     db,
		users:  NewUserRepository(db),
		tokens: NewTokenRepository(db),
	}
}

func (s *store) Users() UserRepository   { return s.users }
func (s *store) Tokens() TokenRepository { return s.tokens }

// WithTx runs fn against repositories bound to a single transaction. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (s *store) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&txStore{users: NewUserRepository(tx), tokens: NewTokenRepository(tx)}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logging.FromContext(ctx).Error("tx_rollback_failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the Store handed to WithTx callbacks. Nested WithTx calls reuse
// the surrounding transaction.
type txStore struct {
	users  UserRepository
	tokens TokenRepository
}

func (s *txStore) Users() UserRepository   { return s.users }
func (s *txStore) Tokens() TokenRepository { return s.tokens }

func (s *txStore) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
