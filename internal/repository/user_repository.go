package repository

import (
	"context"
	"database/sql"
	"errors"

	"match-service/internal/models"

	"github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByFID(ctx context.Context, fid int64) (*models.User, error) {
	query := `
		SELECT fid, username, display_name, pfp_url, badge, created_at
		FROM users
		WHERE fid = $1
	`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, fid).Scan(
		&user.FID,
		&user.Username,
		&user.DisplayName,
		&user.PfpURL,
		&user.Badge,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetManyByFID(ctx context.Context, fids []int64) (map[int64]*models.User, error) {
	query := `
		SELECT fid, username, display_name, pfp_url, badge, created_at
		FROM users
		WHERE fid = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(fids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make(map[int64]*models.User)
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.FID,
			&user.Username,
			&user.DisplayName,
			&user.PfpURL,
			&user.Badge,
			&user.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		users[user.FID] = user
	}
	return users, rows.Err()
}

// UpsertUser refreshes the locally mirrored player reference. Profiles are
// owned by the identity subsystem; we only keep display data current.
func (r *UserRepository) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (fid, username, display_name, pfp_url, badge)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fid) DO UPDATE
		SET username = EXCLUDED.username,
		    display_name = EXCLUDED.display_name,
		    pfp_url = EXCLUDED.pfp_url,
		    badge = EXCLUDED.badge
	`
	_, err := r.db.ExecContext(ctx, query,
		user.FID,
		user.Username,
		user.DisplayName,
		user.PfpURL,
		user.Badge,
	)
	return err
}
