package repositories

import (
	"context"
	"database/sql"
)

type DeviceTokenRepository struct {
	DB *sql.DB
}

// TokensByUser returns the registered FCM tokens for a user.
func (r *DeviceTokenRepository) TokensByUser(ctx context.Context, userID int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Save registers a device token for a user, replacing a stale owner if the
// token moved between accounts.
func (r *DeviceTokenRepository) Save(ctx context.Context, userID int, token string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO device_tokens (user_id, token, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id`,
		userID, token)
	return err
}
