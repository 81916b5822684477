package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/acartia/core"
)

func (a *Adapter) GetToken(ctx context.Context) (string, error) {
	var token string
	err := a.pool.QueryRow(ctx, `SELECT token FROM session_token WHERE id = 1`).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

func (a *Adapter) SetToken(ctx context.Context, token string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO session_token (id, token) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()
	`, token)
	if err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (a *Adapter) ClearToken(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM session_token WHERE id = 1`); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
