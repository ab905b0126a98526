package storage

import "time"

type User struct {
	UserID         string
	FullName       string
	CompanyName    *string
	CompanyRole    *string
	Email          string
	HashedPassword string
	CreatedAt      time.Time
	LastEnteredAt  *time.Time
}

type ChatSession struct {
	ChatSessionID string
	UserID        string
	CreatedAt     time.Time
}

type Prompt struct {
	PromptID      string
	ChatSessionID string
	UserID        string
	Prompt        string
	Response      string
	CreatedAt     time.Time
}

type AgentStep struct {
	StepID        string
	ChatSessionID string
	PromptID      string
	StepIndex     int
	StepData      []byte
	CreatedAt     time.Time
}

type GeneratedImage struct {
	ImageID       string
	ChatSessionID *string
	Name          string
	MIMEType      string
	Data          []byte
	CreatedAt     time.Time
}
