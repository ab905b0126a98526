package registry

import (
	"context"
	"testing"

	"agentchat/internal/providers/openai_compat"
	"agentchat/internal/providers/remote"
)

func TestBuildKinds(t *testing.T) {
	p, err := Build(context.Background(), BuildOptions{Kind: "openai_compat", BaseURL: "http://x/v1"})
	if err != nil {
		t.Fatalf("build openai_compat: %v", err)
	}
	if _, ok := p.(*openai_compat.Client); !ok {
		t.Fatalf("expected openai_compat client, got %T", p)
	}

	p, err = Build(context.Background(), BuildOptions{Kind: "remote", BaseURL: "http://x/run"})
	if err != nil {
		t.Fatalf("build remote: %v", err)
	}
	if _, ok := p.(*remote.Client); !ok {
		t.Fatalf("expected remote client, got %T", p)
	}
}

func TestBuildRejects(t *testing.T) {
	if _, err := Build(context.Background(), BuildOptions{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := Build(context.Background(), BuildOptions{Kind: "gemini", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for gemini without image sink")
	}
}
