package storage

import (
	"context"
	"fmt"

	"agentchat/internal/ids"
)

type table struct {
	name   string
	id     string
	parent string
}

var tables = map[ids.Kind]table{
	ids.KindUser:    {name: "users", id: "user_id"},
	ids.KindSession: {name: "chat_sessions", id: "chat_session_id", parent: "user_id"},
	ids.KindPrompt:  {name: "prompts", id: "prompt_id", parent: "chat_session_id"},
	ids.KindStep:    {name: "agent_steps", id: "step_id", parent: "prompt_id"},
}

var _ ids.Catalog = (*Store)(nil)

func (s *Store) Exists(ctx context.Context, kind ids.Kind, id string) (bool, error) {
	t, ok := tables[kind]
	if !ok {
		return false, fmt.Errorf("no table for kind %q", kind)
	}
	return s.exists(ctx, t.name, t.id, id)
}

func (s *Store) CountChildren(ctx context.Context, kind ids.Kind, parentID string) (int64, error) {
	t, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("no table for kind %q", kind)
	}
	return s.count(ctx, t.name, t.parent, parentID)
}
