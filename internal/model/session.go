package model

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// Source identifies which agent tool produced a session log.
type Source string

const (
	SourceClaude   Source = "claude"
	SourceCodex    Source = "codex"
	SourceGemini   Source = "gemini"
	SourceOpenCode Source = "opencode"
	SourceAmp      Source = "amp"
	SourceCursor   Source = "cursor"
)

// AllSources lists every known source in display order.
var AllSources = []Source{
	SourceClaude, SourceCodex, SourceGemini, SourceOpenCode, SourceAmp, SourceCursor,
}

// EventKind classifies a single occurrence within a session.
type EventKind string

const (
	KindUser       EventKind = "user"
	KindAssistant  EventKind = "assistant"
	KindToolCall   EventKind = "tool_call"
	KindToolResult EventKind = "tool_result"
	KindError      EventKind = "error"
	KindMeta       EventKind = "meta"
)

// RawPayloadLimit bounds how much of the original log line is kept on an
// event for inspection.
const RawPayloadLimit = 4 * 1024

// SessionEvent is one atomic occurrence in a session timeline.
// Events are exclusively owned by their Session and never shared.
type SessionEvent struct {
	ID         string
	Timestamp  time.Time // zero when the source line carried none
	Kind       EventKind
	Role       string
	Text       string
	ToolName   string
	ToolInput  string
	ToolOutput string
	MessageID  string
	ParentID   string
	IsDelta    bool
	RawPayload string // truncated to RawPayloadLimit
}

// Session is the canonical normalized record of one agent interaction log.
type Session struct {
	ID                  string
	Source              Source
	StartTime           time.Time
	EndTime             time.Time
	Model               string
	FilePath            string
	FileSizeBytes       int64
	EventCount          int // non-meta events; may be an estimate when Events is empty
	Events              []SessionEvent
	CWD                 string
	RepoName            string
	Title               string
	LightweightCommands int
	IsFavorite          bool
}

// SessionID derives the stable session identity from a source file path.
// The same path always yields the same id across runs, which is what lets
// index upserts and archive keys converge.
func SessionID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:16])
}

// IsLightweight reports whether the session carries metadata only, with no
// materialized events.
func (s *Session) IsLightweight() bool {
	return len(s.Events) == 0
}

// EffectiveTime returns the best timestamp for ordering: EndTime when set,
// else StartTime.
func (s *Session) EffectiveTime() time.Time {
	if !s.EndTime.IsZero() {
		return s.EndTime
	}
	return s.StartTime
}

// FirstUserText returns the text of the first user event, or "".
func (s *Session) FirstUserText() string {
	for i := range s.Events {
		if s.Events[i].Kind == KindUser && s.Events[i].Text != "" {
			return s.Events[i].Text
		}
	}
	return ""
}

// Transcript renders the materialized events as one searchable string: title
// first, then each conversational event as "role: text". Tool events
// contribute their tool name so "used grep" style queries still hit.
func (s *Session) Transcript() string {
	var sb strings.Builder
	if s.Title != "" {
		sb.WriteString(s.Title)
		sb.WriteString("\n")
	}
	for i := range s.Events {
		ev := &s.Events[i]
		switch ev.Kind {
		case KindUser, KindAssistant:
			if ev.Text == "" {
				continue
			}
			if ev.Role != "" {
				sb.WriteString(ev.Role)
				sb.WriteString(": ")
			}
			sb.WriteString(ev.Text)
			sb.WriteString("\n")
		case KindToolCall:
			if ev.ToolName != "" {
				sb.WriteString(ev.ToolName)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

// ToolIOText renders tool inputs and outputs as one searchable string,
// separate from the transcript so its retention can be budgeted independently.
func (s *Session) ToolIOText() string {
	var sb strings.Builder
	for i := range s.Events {
		ev := &s.Events[i]
		switch ev.Kind {
		case KindToolCall:
			if ev.ToolName != "" {
				sb.WriteString(ev.ToolName)
				sb.WriteString(" ")
			}
			if ev.ToolInput != "" {
				sb.WriteString(ev.ToolInput)
				sb.WriteString("\n")
			}
		case KindToolResult:
			if ev.ToolOutput != "" {
				sb.WriteString(ev.ToolOutput)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
