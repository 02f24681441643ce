package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/tessera/tessera/internal/migrations"
	"github.com/tessera/tessera/internal/model"
)

// SQLite provides user storage in an embedded SQLite database.
// Intended for local development and tests.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (or creates) the database at path and applies migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; serializing connections keeps
	// concurrent inserts from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := migrations.Up(ctx, db.DB, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Ping checks database connectivity.
func (r *SQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLite) Close() {
	_ = r.db.Close()
}

// Insert stores a new user and fills in its ID and timestamps.
func (r *SQLite) Insert(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (email, password, name, surname, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Surname,
		now,
		now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// FindByID retrieves a user by their ID.
func (r *SQLite) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by their email address.
func (r *SQLite) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// Update persists the mutable fields of user.
func (r *SQLite) Update(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password = ?, name = ?, surname = ?, updated_at = ? WHERE id = ?`,
		user.PasswordHash,
		user.Name,
		user.Surname,
		now,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	user.UpdatedAt = now
	return nil
}

// ListAll returns every user ordered by ID.
func (r *SQLite) ListAll(ctx context.Context) ([]*model.User, error) {
	users := make([]*model.User, 0)
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
