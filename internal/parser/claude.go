package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// claudeDialect parses Claude Code project logs: one JSON object per line,
// UUID-named .jsonl files under ~/.claude/projects/<project>/.
type claudeDialect struct{}

func (claudeDialect) Source() model.Source { return model.SourceClaude }

type claudeLine struct {
	SessionID  string          `json:"sessionId"`
	Type       string          `json:"type"`
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	Message    json.RawMessage `json:"message"`
	Timestamp  string          `json:"timestamp"`
	CWD        string          `json:"cwd"`
	Summary    string          `json:"summary"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

func (d claudeDialect) ParseFile(path string) *model.Session {
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
		Source:        model.SourceClaude,
		FilePath:      path,
		FileSizeBytes: size,
	}

	var headLines, headEvents, headCommands int
	var headBytes int64
	var lastHeadTime time.Time

	scanner := bufio.NewScanner(io.LimitReader(f, headSampleLimit))
	scanner.Buffer(make([]byte, 0, 64*1024), headSampleLimit)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		headLines++
		headBytes += int64(len(line)) + 1

		var rec claudeLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if ts, ok := parseClaudeTime(rec.Timestamp); ok {
			if sess.StartTime.IsZero() {
				sess.StartTime = ts
			}
			lastHeadTime = ts
		}
		if sess.CWD == "" && rec.CWD != "" {
			sess.CWD = rec.CWD
		}
		if sess.Title == "" && rec.Summary != "" {
			sess.Title = truncateTitle(rec.Summary, 80)
		}
		switch rec.Type {
		case "user", "assistant":
			headEvents++
			var msg claudeMessage
			if err := json.Unmarshal(rec.Message, &msg); err == nil {
				if sess.Model == "" && msg.Model != "" {
					sess.Model = msg.Model
				}
				if sess.Title == "" && msg.Role == "user" {
					if text := claudeTextOf(msg.Content); text != "" {
						sess.Title = truncateTitle(text, 80)
					}
				}
			}
			if bytes.Contains(line, []byte(`"tool_use"`)) {
				headCommands++
				headEvents++
			}
		}
	}

	sess.RepoName = repoNameFromCWD(sess.CWD)

	// Extrapolate counts from the sampled head: the per-line event density is
	// roughly uniform across an append-only transcript.
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

	if sess.StartTime.IsZero() && sess.CWD == "" && sess.EventCount == 0 {
		return nil
	}
	return sess
}

func (d claudeDialect) ParseFileFull(path, forcedID string) *model.Session {
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
		Source:        model.SourceClaude,
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
		var rec claudeLine
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
		if sess.CWD == "" && rec.CWD != "" {
			sess.CWD = rec.CWD
		}

		switch rec.Type {
		case "summary":
			if rec.Summary != "" && sess.Title == "" {
				sess.Title = truncateTitle(rec.Summary, 80)
			}
			sess.Events = append(sess.Events, model.SessionEvent{
				ID:         eventID(rec.UUID, seq),
				Timestamp:  ts,
				Kind:       model.KindMeta,
				Text:       rec.Summary,
				RawPayload: truncateRaw(line),
			})
		case "user", "assistant":
			var msg claudeMessage
			if err := json.Unmarshal(rec.Message, &msg); err != nil {
				continue
			}
			if sess.Model == "" && msg.Model != "" {
				sess.Model = msg.Model
			}
			d.appendMessageEvents(sess, rec, msg, ts, line, &seq)
		case "system":
			sess.Events = append(sess.Events, model.SessionEvent{
				ID:         eventID(rec.UUID, seq),
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
		sess.Title = truncateTitle(sess.FirstUserText(), 80)
	}
	sess.EventCount = countNonMeta(sess.Events)
	sess.LightweightCommands = countKind(sess.Events, model.KindToolCall)

	if len(sess.Events) == 0 {
		return nil
	}
	return sess
}

// appendMessageEvents explodes one user/assistant record into text, tool_call
// and tool_result events, preserving block order.
func (claudeDialect) appendMessageEvents(sess *model.Session, rec claudeLine, msg claudeMessage, ts time.Time, line []byte, seq *int) {
	kind := model.KindUser
	if msg.Role == "assistant" {
		kind = model.KindAssistant
	}

	// String content is the common fast path.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		sess.Events = append(sess.Events, model.SessionEvent{
			ID:         eventID(rec.UUID, *seq),
			Timestamp:  ts,
			Kind:       kind,
			Role:       msg.Role,
			Text:       text,
			MessageID:  rec.UUID,
			ParentID:   rec.ParentUUID,
			RawPayload: truncateRaw(line),
		})
		return
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	for _, block := range blocks {
		*seq++
		ev := model.SessionEvent{
			ID:        eventID(block.ID, *seq),
			Timestamp: ts,
			Role:      msg.Role,
			MessageID: rec.UUID,
			ParentID:  rec.ParentUUID,
		}
		switch block.Type {
		case "text":
			ev.Kind = kind
			ev.Text = block.Text
		case "tool_use":
			ev.Kind = model.KindToolCall
			ev.ToolName = block.Name
			ev.ToolInput = compactJSON(block.Input)
		case "tool_result":
			ev.Kind = model.KindToolResult
			ev.ToolOutput = claudeTextOf(block.Content)
			ev.ParentID = block.ToolUseID
		default:
			continue
		}
		ev.RawPayload = truncateRaw(line)
		sess.Events = append(sess.Events, ev)
	}
}

// claudeTextOf extracts readable text from either string content or a block
// array.
func claudeTextOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

func parseClaudeTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// lastTimestampInTail samples the trailing bytes of a file for the final
// timestamp, so very large transcripts get an end time without a full read.
func lastTimestampInTail(path string, size int64) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	offset := size - tailSampleLimit
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return time.Time{}, false
	}
	data, err := io.ReadAll(io.LimitReader(f, tailSampleLimit))
	if err != nil {
		return time.Time{}, false
	}

	var last time.Time
	for _, line := range bytes.Split(data, []byte("\n")) {
		idx := bytes.Index(line, []byte(`"timestamp":"`))
		if idx < 0 {
			continue
		}
		rest := line[idx+len(`"timestamp":"`):]
		end := bytes.IndexByte(rest, '"')
		if end < 0 {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, string(rest[:end])); err == nil {
			last = ts
		}
	}
	return last, !last.IsZero()
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func eventID(id string, seq int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("evt-%d", seq)
}

func countNonMeta(events []model.SessionEvent) int {
	n := 0
	for i := range events {
		if events[i].Kind != model.KindMeta {
			n++
		}
	}
	return n
}

func countKind(events []model.SessionEvent, kind model.EventKind) int {
	n := 0
	for i := range events {
		if events[i].Kind == kind {
			n++
		}
	}
	return n
}
