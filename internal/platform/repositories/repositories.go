package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formhook/internal/platform/models"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStorageUnavailable wraps every database failure so callers can map it
	// to a retryable status without inspecting driver errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDuplicate          = errors.New("duplicate record")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now().Unix()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_root_admin, created_at)
		VALUES (?, ?, ?, ?)
	`, user.Username, user.PasswordHash, user.IsRootAdmin, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", user.Username, ErrDuplicate)
		}
		return storageErr("create user", err)
	}

	user.ID, err = res.LastInsertId()
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `
		SELECT id, username, password_hash, is_root_admin, last_login_at, created_at
		FROM users WHERE id = ?
	`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `
		SELECT id, username, password_hash, is_root_admin, last_login_at, created_at
		FROM users WHERE username = ?
	`, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	var lastLogin sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.IsRootAdmin, &lastLogin, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storageErr("get user", err)
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Int64
	}
	return user, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, storageErr("count users", err)
	}
	return n, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID int64, timestamp int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, timestamp, userID)
	if err != nil {
		return storageErr("update last login", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_root_admin, last_login_at, created_at
		FROM users ORDER BY id ASC
	`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user := &models.User{}
		var lastLogin sql.NullInt64
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsRootAdmin, &lastLogin, &user.CreatedAt); err != nil {
			return nil, storageErr("scan user", err)
		}
		if lastLogin.Valid {
			user.LastLoginAt = &lastLogin.Int64
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}
