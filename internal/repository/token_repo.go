package repository

import (
	"context"
	"errors"
	"fmt"

	"jobboard_auth/internal/model"

	"github.com/jackc/pgx/v5"
)

// TokenRepository defines operations for persisted bearer tokens
type TokenRepository interface {
	Create(ctx context.Context, token *model.Token) error
	FindByToken(ctx context.Context, token string) (*model.Token, error)
	FindAllValidByUser(ctx context.Context, userID int) ([]*model.Token, error)
	SaveAll(ctx context.Context, tokens []*model.Token) error
}

type tokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepository{db: db}
}

const tokenColumns = `id, user_id, token, token_type, expired, revoked, created_at`

func scanToken(row pgx.Row) (*model.Token, error) {
	t := &model.Token{}
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.TokenType, &t.Expired, &t.Revoked, &t.CreatedAt)
	return t, err
}

// Create inserts a new token row
func (r *tokenRepository) Create(ctx context.Context, t *model.Token) error {
	sql := `INSERT INTO tokens (user_id, token, token_type, expired, revoked, created_at)
            VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := r.db.QueryRow(ctx, sql, t.UserID, t.Token, t.TokenType, t.Expired, t.Revoked, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// FindByToken looks a token up by its string. A missing token is (nil, nil).
func (r *tokenRepository) FindByToken(ctx context.Context, token string) (*model.Token, error) {
	sql := `SELECT ` + tokenColumns + ` FROM tokens WHERE token = $1`
	t, err := scanToken(r.db.QueryRow(ctx, sql, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return t, nil
}

// FindAllValidByUser returns the user's tokens that are not both expired and revoked
func (r *tokenRepository) FindAllValidByUser(ctx context.Context, userID int) ([]*model.Token, error) {
	sql := `SELECT ` + tokenColumns + ` FROM tokens
            WHERE user_id = $1 AND (expired = false OR revoked = false) ORDER BY id`
	rows, err := r.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query valid tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}
	return tokens, nil
}

// SaveAll writes back the expired/revoked flags of the given tokens
func (r *tokenRepository) SaveAll(ctx context.Context, tokens []*model.Token) error {
	sql := `UPDATE tokens SET expired = $1, revoked = $2 WHERE id = $3`
	for _, t := range tokens {
		cmdTag, err := r.db.Exec(ctx, sql, t.Expired, t.Revoked, t.ID)
		if err != nil {
			return fmt.Errorf("failed to save token %d: %w", t.ID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return fmt.Errorf("token %d: %w", t.ID, ErrRecordNotFound)
		}
	}
	return nil
}
