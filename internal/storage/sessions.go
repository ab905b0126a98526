package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) InsertChatSession(ctx context.Context, cs ChatSession) error {
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = s.now()
	}
	q := s.sql.Insert("chat_sessions").
		Columns("chat_session_id", "user_id", "created_at").
		Values(cs.ChatSessionID, cs.UserID, cs.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert chat session query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return classifyInsert("insert chat session", err)
}

func (s *Store) GetChatSession(ctx context.Context, chatSessionID string) (ChatSession, error) {
	q := s.sql.Select("chat_session_id", "user_id", "created_at").
		From("chat_sessions").
		Where(sq.Eq{"chat_session_id": chatSessionID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatSession{}, fmt.Errorf("build get chat session query: %w", err)
	}

	var cs ChatSession
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&cs.ChatSessionID, &cs.UserID, &cs.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatSession{}, ErrNotFound
		}
		return ChatSession{}, fmt.Errorf("get chat session: %w", err)
	}
	return cs, nil
}

func (s *Store) ListChatSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	q := s.sql.Select("chat_session_id", "user_id", "created_at").
		From("chat_sessions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC", "chat_session_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chat sessions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	out := make([]ChatSession, 0)
	for rows.Next() {
		var cs ChatSession
		if err := rows.Scan(&cs.ChatSessionID, &cs.UserID, &cs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session row: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat session rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertPrompt(ctx context.Context, p Prompt) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	q := s.sql.Insert("prompts").
		Columns("prompt_id", "chat_session_id", "user_id", "prompt", "response", "created_at").
		Values(p.PromptID, p.ChatSessionID, p.UserID, p.Prompt, p.Response, p.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert prompt query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return classifyInsert("insert prompt", err)
}

func (s *Store) ListPrompts(ctx context.Context, chatSessionID string) ([]Prompt, error) {
	q := s.sql.Select("prompt_id", "chat_session_id", "user_id", "prompt", "response", "created_at").
		From("prompts").
		Where(sq.Eq{"chat_session_id": chatSessionID}).
		OrderBy("created_at ASC", "prompt_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list prompts query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := make([]Prompt, 0)
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.PromptID, &p.ChatSessionID, &p.UserID, &p.Prompt, &p.Response, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return out, nil
}
