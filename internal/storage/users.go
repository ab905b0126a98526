package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var userColumns = []string{"user_id", "full_name", "company_name", "company_role", "email", "hashed_password", "created_at", "last_entered_at"}

func (s *Store) InsertUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	q := s.sql.Insert("users").
		Columns("user_id", "full_name", "company_name", "company_role", "email", "hashed_password", "created_at").
		Values(u.UserID, u.FullName, u.CompanyName, u.CompanyRole, u.Email, u.HashedPassword, u.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert user query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return classifyInsert("insert user", err)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, sq.Eq{"user_id": userID})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "users", "email", email)
}

func (s *Store) TouchLastEntered(ctx context.Context, userID string, at time.Time) error {
	q := s.sql.Update("users").
		Set("last_entered_at", at.UTC()).
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build touch user query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	q := s.sql.Select(userColumns...).From("users").Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}

	var u User
	var companyName, companyRole sql.NullString
	var lastEntered sql.NullTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&u.UserID,
		&u.FullName,
		&companyName,
		&companyRole,
		&u.Email,
		&u.HashedPassword,
		&u.CreatedAt,
		&lastEntered,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if companyName.Valid {
		u.CompanyName = &companyName.String
	}
	if companyRole.Valid {
		u.CompanyRole = &companyRole.String
	}
	if lastEntered.Valid {
		u.LastEnteredAt = &lastEntered.Time
	}
	return u, nil
}

func (s *Store) exists(ctx context.Context, table, column, value string) (bool, error) {
	q := s.sql.Select("1").From(table).Where(sq.Eq{column: value}).Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check %s.%s: %w", table, column, err)
	}
	return true, nil
}

func (s *Store) count(ctx context.Context, table, column, value string) (int64, error) {
	q := s.sql.Select("COUNT(*)").From(table)
	if column != "" {
		q = q.Where(sq.Eq{column: value})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
