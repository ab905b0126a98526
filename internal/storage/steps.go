package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// InsertAgentSteps writes all steps in one statement.
func (s *Store) InsertAgentSteps(ctx context.Context, steps []AgentStep) error {
	if len(steps) == 0 {
		return nil
	}
	now := s.now()
	q := s.sql.Insert("agent_steps").
		Columns("step_id", "chat_session_id", "prompt_id", "step_index", "step_data", "created_at")
	for _, st := range steps {
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		q = q.Values(st.StepID, st.ChatSessionID, st.PromptID, st.StepIndex, string(st.StepData), st.CreatedAt)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert agent steps query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return classifyInsert("insert agent steps", err)
}

// ListSessionSteps returns every step of a session in history order.
func (s *Store) ListSessionSteps(ctx context.Context, chatSessionID string) ([]AgentStep, error) {
	q := s.sql.Select("step_id", "chat_session_id", "prompt_id", "step_index", "step_data", "created_at").
		From("agent_steps").
		Where(sq.Eq{"chat_session_id": chatSessionID}).
		OrderBy("step_index ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list steps query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := make([]AgentStep, 0)
	for rows.Next() {
		var st AgentStep
		var data string
		if err := rows.Scan(&st.StepID, &st.ChatSessionID, &st.PromptID, &st.StepIndex, &data, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		st.StepData = []byte(data)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step rows: %w", err)
	}
	return out, nil
}
