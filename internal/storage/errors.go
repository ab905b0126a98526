package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"agentchat/internal/ids"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrStepIndexTaken = errors.New("step position already stored for session")
)

const pgUniqueViolation = "23505"

// classifyInsert turns unique violations into the sentinels callers branch on:
// a taken email becomes ErrEmailTaken, a taken step position ErrStepIndexTaken
// and any other key ids.ErrCollision.
func classifyInsert(op string, err error) error {
	if err == nil {
		return nil
	}
	if unique, detail := uniqueViolation(err); unique {
		switch {
		case strings.Contains(detail, "email"):
			return fmt.Errorf("%s: %w", op, ErrEmailTaken)
		case strings.Contains(detail, "step_index"):
			return fmt.Errorf("%s: %w", op, ErrStepIndexTaken)
		}
		return fmt.Errorf("%s: %w: %v", op, ids.ErrCollision, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func uniqueViolation(err error) (bool, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation, pgErr.ConstraintName + " " + pgErr.Detail
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE") {
		return true, msg
	}
	return false, ""
}
