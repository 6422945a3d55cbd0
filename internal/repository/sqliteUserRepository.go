package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/models"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/storage"
	"github.com/google/uuid"
)

// SQLiteUserRepository stores users in the embedded SQLite database.
type SQLiteUserRepository struct {
	db  *storage.SQLite
	now func() time.Time
}

func NewSQLiteUserRepository(db *storage.SQLite) *SQLiteUserRepository {
	return &SQLiteUserRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	_, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.Email, user.PasswordHash, user.Role,
		user.IsActive, user.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.Username, err)
	}
	return nil
}

// FindByUsername returns (nil, nil) when no user matches.
func (r *SQLiteUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.DB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, is_active, created_at
		 FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *SQLiteUserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, username, email, password_hash, role, is_active, created_at
		 FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *SQLiteUserRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		id        string
		createdAt string
	)
	err := row.Scan(&id, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}

	if user.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("user %s has invalid id: %w", user.Username, err)
	}
	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("user %s has invalid created_at: %w", user.Username, err)
	}
	return &user, nil
}
