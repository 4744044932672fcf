// Package history is the conversation history manager: an append-only,
// token-accounted message log with a compacted view in which an oldest
// prefix is replaced by a single digest.
package history

import (
	"context"
	"strconv"
	"time"
)

// Origin tags a message id with who produced it.
type Origin byte

const (
	OriginUser   Origin = 'U'
	OriginAgent  Origin = 'A'
	OriginTool   Origin = 'T'
	OriginDigest Origin = 'D'
)

// Role is the conversational role presented to the model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a tool invocation requested by the agent.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry of the raw log.
type Message struct {
	ID      string    `json:"id"`
	Origin  Origin    `json:"origin"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Tokens  int       `json:"tokens"`
	Seq     int       `json:"seq"`
	At      time.Time `json:"at"`

	// ToolCalls is set on agent messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and ToolName are set on tool results.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func messageID(o Origin, seq int) string {
	return string(rune(o)) + strconv.Itoa(seq)
}

// Digest replaces the detached prefix in the compacted view.
type Digest struct {
	ID string `json:"id"`
	// First and Last are the ids of the oldest and newest detached messages.
	First   string    `json:"first"`
	Last    string    `json:"last"`
	Count   int       `json:"count"`
	Summary string    `json:"summary"`
	Tokens  int       `json:"tokens"`
	At      time.Time `json:"at"`
}

// Summarizer produces digest text for messages being detached. prior is
// the digest they are folded into, or nil.
type Summarizer interface {
	Summarize(ctx context.Context, prior *Digest, msgs []Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, prior *Digest, msgs []Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, prior *Digest, msgs []Message) (string, error) {
	return f(ctx, prior, msgs)
}

// Config controls automatic detachment.
type Config struct {
	// Watermark is the token total above which AutoDetach acts. Zero disables it.
	Watermark int
	// TargetRatio sets the post-detach goal as Watermark*TargetRatio.
	TargetRatio float64
	// KeepRecent newest messages are never detached automatically.
	KeepRecent int
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{Watermark: 40000, TargetRatio: 0.6, KeepRecent: 6}
}

// Checkpoint captures the conversation so a failed turn can be undone.
type Checkpoint struct {
	logLen   int
	detached int
	nextSeq  int
	digest   *Digest
}

// State is the serializable form used by persistence.
type State struct {
	Messages []Message `json:"messages"`
	Digest   *Digest   `json:"digest,omitempty"`
	Detached int       `json:"detached"`
	NextSeq  int       `json:"next_seq"`
}
