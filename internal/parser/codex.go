package parser

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// codexDialect parses Codex CLI session logs: JSONL rollout files under
// ~/.codex/sessions/<yyyy>/<mm>/<dd>/.
type codexDialect struct{}

func (codexDialect) Source() model.Source { return model.SourceCodex }

type codexLine struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type codexMetaPayload struct {
	ID        string `json:"id"`
	CWD       string `json:"cwd"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

type codexItemPayload struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	CallID    string          `json:"call_id"`
	Output    string          `json:"output"`
	ID        string          `json:"id"`
}

type codexContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (d codexDialect) ParseFile(path string) *model.Session {
	size, _, ok := statFile(path)
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	sess := &model.Session{
		ID:            model.SessionID(path),
		Source:        model.SourceCodex,
		FilePath:      path,
		FileSizeBytes: size,
	}

	var headEvents, headCommands int
	var headBytes int64
	var lastHeadTime time.Time
	sawMeta := false

	scanner := bufio.NewScanner(io.LimitReader(f, headSampleLimit))
	scanner.Buffer(make([]byte, 0, 64*1024), headSampleLimit)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		headBytes += int64(len(line)) + 1

		var rec codexLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if ts, ok := parseClaudeTime(rec.Timestamp); ok {
			if sess.StartTime.IsZero() {
				sess.StartTime = ts
			}
			lastHeadTime = ts
		}

		switch rec.Type {
		case "session_meta":
			var meta codexMetaPayload
			if err := json.Unmarshal(rec.Payload, &meta); err == nil {
				sawMeta = true
				sess.CWD = meta.CWD
				if meta.Model != "" {
					sess.Model = meta.Model
				}
			}
		case "turn_context":
			var meta codexMetaPayload
			if err := json.Unmarshal(rec.Payload, &meta); err == nil && meta.Model != "" {
				sess.Model = meta.Model
			}
		case "response_item":
			var item codexItemPayload
			if err := json.Unmarshal(rec.Payload, &item); err != nil {
				continue
			}
			switch item.Type {
			case "message":
				headEvents++
				if sess.Title == "" && item.Role == "user" {
					if text := codexTextOf(item.Content); isRealCodexUserText(text) {
						sess.Title = truncateTitle(text, 80)
					}
				}
			case "function_call", "local_shell_call":
				headEvents++
				headCommands++
			case "function_call_output":
				headEvents++
			}
		}
	}

	if !sawMeta && headEvents == 0 {
		return nil
	}

	sess.RepoName = repoNameFromCWD(sess.CWD)

	if headBytes >= size || headBytes == 0 {
		sess.EventCount = headEvents
		sess.LightweightCommands = headCommands
	} else {
		ratio := float64(size) / float64(headBytes)
		sess.EventCount = int(float64(headEvents) * ratio)
		sess.LightweightCommands = int(float64(headCommands) * ratio)
	}

	if end, ok := lastTimestampInTail(path, size); ok {
		sess.EndTime = end
	} else if !lastHeadTime.IsZero() {
		sess.EndTime = lastHeadTime
	}
	return sess
}

func (d codexDialect) ParseFileFull(path, forcedID string) *model.Session {
	size, _, ok := statFile(path)
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	id := forcedID
	if id == "" {
		id = model.SessionID(path)
	}
	sess := &model.Session{
		ID:            id,
		Source:        model.SourceCodex,
		FilePath:      path,
		FileSizeBytes: size,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	seq := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec codexLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		seq++
		ts, _ := parseClaudeTime(rec.Timestamp)
		if !ts.IsZero() {
			if sess.StartTime.IsZero() {
				sess.StartTime = ts
			}
			sess.EndTime = ts
		}

		switch rec.Type {
		case "session_meta":
			var meta codexMetaPayload
			if err := json.Unmarshal(rec.Payload, &meta); err == nil {
				sess.CWD = meta.CWD
				if meta.Model != "" {
					sess.Model = meta.Model
				}
			}
			sess.Events = append(sess.Events, model.SessionEvent{
				ID:         eventID("", seq),
				Timestamp:  ts,
				Kind:       model.KindMeta,
				RawPayload: truncateRaw(line),
			})
		case "turn_context":
			var meta codexMetaPayload
			if err := json.Unmarshal(rec.Payload, &meta); err == nil && meta.Model != "" {
				sess.Model = meta.Model
			}
		case "response_item":
			var item codexItemPayload
			if err := json.Unmarshal(rec.Payload, &item); err != nil {
				continue
			}
			ev := model.SessionEvent{
				ID:         eventID(item.ID, seq),
				Timestamp:  ts,
				RawPayload: truncateRaw(line),
			}
			switch item.Type {
			case "message":
				ev.Role = item.Role
				ev.Text = codexTextOf(item.Content)
				if item.Role == "assistant" {
					ev.Kind = model.KindAssistant
				} else {
					ev.Kind = model.KindUser
				}
			case "function_call", "local_shell_call":
				ev.Kind = model.KindToolCall
				ev.ToolName = item.Name
				ev.ToolInput = item.Arguments
				ev.MessageID = item.CallID
			case "function_call_output":
				ev.Kind = model.KindToolResult
				ev.ToolOutput = item.Output
				ev.ParentID = item.CallID
			default:
				continue
			}
			sess.Events = append(sess.Events, ev)
		case "event_msg":
			sess.Events = append(sess.Events, model.SessionEvent{
				ID:         eventID("", seq),
				Timestamp:  ts,
				Kind:       model.KindMeta,
				RawPayload: truncateRaw(line),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil
	}

	sess.RepoName = repoNameFromCWD(sess.CWD)
	if sess.Title == "" {
		for i := range sess.Events {
			ev := &sess.Events[i]
			if ev.Kind == model.KindUser && isRealCodexUserText(ev.Text) {
				sess.Title = truncateTitle(ev.Text, 80)
				break
			}
		}
	}
	sess.EventCount = countNonMeta(sess.Events)
	sess.LightweightCommands = countKind(sess.Events, model.KindToolCall)

	if len(sess.Events) == 0 {
		return nil
	}
	return sess
}

// codexTextOf joins the text items of a response content array.
func codexTextOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var items []codexContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var sb strings.Builder
	for _, it := range items {
		if it.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(it.Text)
	}
	return sb.String()
}

// isRealCodexUserText filters out the environment preamble Codex injects
// ahead of the user's first real message.
func isRealCodexUserText(text string) bool {
	if text == "" {
		return false
	}
	return !strings.Contains(text, "<environment_context>") &&
		!strings.Contains(text, "AGENTS.md") &&
		!strings.Contains(text, "<permissions") &&
		!strings.HasPrefix(text, "#")
}
