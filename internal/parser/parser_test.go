package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

const claudeLog = `{"type":"summary","summary":"Fix websocket upgrade failure"}
{"type":"user","uuid":"u1","sessionId":"s1","timestamp":"2026-08-20T09:00:00Z","cwd":"/home/u/projects/vault","message":{"role":"user","content":"find the websocket bug"}}
{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2026-08-20T09:00:05Z","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"Looking at the handler now."},{"type":"tool_use","id":"t1","name":"Grep","input":{"pattern":"websocket"}}]}}
{"type":"user","uuid":"u2","timestamp":"2026-08-20T09:00:06Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ws.go:42: upgrade failed"}]}}
{"type":"system","uuid":"sys1","timestamp":"2026-08-20T09:00:07Z"}
`

const codexLog = `{"type":"session_meta","timestamp":"2026-08-20T10:00:00Z","payload":{"id":"r1","cwd":"/home/u/projects/vault","model":"gpt-5.2-codex"}}
{"type":"response_item","timestamp":"2026-08-20T10:00:01Z","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"add retries to the uploader"}]}}
{"type":"response_item","timestamp":"2026-08-20T10:00:05Z","payload":{"type":"function_call","name":"shell","arguments":"{\"command\":[\"go\",\"test\"]}","call_id":"c1"}}
{"type":"response_item","timestamp":"2026-08-20T10:00:09Z","payload":{"type":"function_call_output","call_id":"c1","output":"ok  vault  0.41s"}}
{"type":"response_item","timestamp":"2026-08-20T10:00:12Z","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Retries added with backoff."}]}}
`

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClaudeParseFileLightweight(t *testing.T) {
	path := writeLog(t, "session.jsonl", claudeLog)

	sess := ParseFile(path, model.SourceClaude)
	if sess == nil {
		t.Fatal("expected a session")
	}
	if sess.ID != model.SessionID(path) {
		t.Errorf("id = %q, want derived id", sess.ID)
	}
	if len(sess.Events) != 0 {
		t.Errorf("lightweight parse materialized %d events", len(sess.Events))
	}
	if sess.Title != "Fix websocket upgrade failure" {
		t.Errorf("title = %q", sess.Title)
	}
	if sess.CWD != "/home/u/projects/vault" {
		t.Errorf("cwd = %q", sess.CWD)
	}
	if sess.RepoName != "vault" {
		t.Errorf("repo = %q", sess.RepoName)
	}
	if sess.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", sess.Model)
	}
	if sess.StartTime.IsZero() || sess.EndTime.IsZero() {
		t.Error("expected start and end times")
	}
	if sess.EndTime.Before(sess.StartTime) {
		t.Error("end time before start time")
	}
	if sess.EventCount == 0 {
		t.Error("expected a non-zero event estimate")
	}
	if sess.LightweightCommands != 1 {
		t.Errorf("commands = %d, want 1", sess.LightweightCommands)
	}
}

func TestClaudeParseFileFull(t *testing.T) {
	path := writeLog(t, "session.jsonl", claudeLog)

	sess := ParseFileFull(path, model.SourceClaude, "")
	if sess == nil {
		t.Fatal("expected a session")
	}

	var kinds []model.EventKind
	for _, ev := range sess.Events {
		kinds = append(kinds, ev.Kind)
	}
	want := []model.EventKind{
		model.KindMeta,       // summary
		model.KindUser,       // prompt
		model.KindAssistant,  // text block
		model.KindToolCall,   // tool_use block
		model.KindToolResult, // tool_result block
		model.KindMeta,       // system
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d (%v)", len(kinds), len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d].Kind = %q, want %q", i, kinds[i], want[i])
		}
	}

	if sess.EventCount != 4 {
		t.Errorf("eventCount = %d, want 4 non-meta", sess.EventCount)
	}
	if sess.LightweightCommands != 1 {
		t.Errorf("commands = %d, want 1", sess.LightweightCommands)
	}

	call := sess.Events[3]
	if call.ToolName != "Grep" {
		t.Errorf("tool name = %q", call.ToolName)
	}
	if call.ToolInput != `{"pattern":"websocket"}` {
		t.Errorf("tool input = %q", call.ToolInput)
	}
	result := sess.Events[4]
	if result.ToolOutput != "ws.go:42: upgrade failed" {
		t.Errorf("tool output = %q", result.ToolOutput)
	}
	if result.ParentID != "t1" {
		t.Errorf("result parent = %q, want tool use id", result.ParentID)
	}
}

func TestClaudeParseFileFullForcedID(t *testing.T) {
	path := writeLog(t, "session.jsonl", claudeLog)

	sess := ParseFileFull(path, model.SourceClaude, "recovered-id")
	if sess == nil {
		t.Fatal("expected a session")
	}
	if sess.ID != "recovered-id" {
		t.Errorf("id = %q, want forced id", sess.ID)
	}
}

func TestCodexParseFileFull(t *testing.T) {
	path := writeLog(t, "rollout-2026-08-20.jsonl", codexLog)

	sess := ParseFileFull(path, model.SourceCodex, "")
	if sess == nil {
		t.Fatal("expected a session")
	}
	if sess.Model != "gpt-5.2-codex" {
		t.Errorf("model = %q", sess.Model)
	}
	if sess.CWD != "/home/u/projects/vault" {
		t.Errorf("cwd = %q", sess.CWD)
	}
	if sess.Title != "add retries to the uploader" {
		t.Errorf("title = %q", sess.Title)
	}
	if sess.EventCount != 4 {
		t.Errorf("eventCount = %d, want 4", sess.EventCount)
	}
	if sess.LightweightCommands != 1 {
		t.Errorf("commands = %d", sess.LightweightCommands)
	}

	last := sess.Events[len(sess.Events)-1]
	if last.Kind != model.KindAssistant || last.Text != "Retries added with backoff." {
		t.Errorf("unexpected final event: %+v", last)
	}
}

func TestCodexParseFileLightweight(t *testing.T) {
	path := writeLog(t, "rollout-2026-08-20.jsonl", codexLog)

	sess := ParseFile(path, model.SourceCodex)
	if sess == nil {
		t.Fatal("expected a session")
	}
	if len(sess.Events) != 0 {
		t.Error("lightweight parse materialized events")
	}
	if sess.Title != "add retries to the uploader" {
		t.Errorf("title = %q", sess.Title)
	}
	if sess.EventCount != 4 {
		t.Errorf("eventCount = %d, want 4 for a fully sampled file", sess.EventCount)
	}
}

func TestParseFileUnreadable(t *testing.T) {
	if sess := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl"), model.SourceClaude); sess != nil {
		t.Error("expected nil for a missing file")
	}
	empty := writeLog(t, "empty.jsonl", "")
	if sess := ParseFile(empty, model.SourceClaude); sess != nil {
		t.Error("expected nil for an empty file")
	}
}

func TestSessionIDStable(t *testing.T) {
	if model.SessionID("/logs/a.jsonl") != model.SessionID("/logs/a.jsonl") {
		t.Error("id not deterministic")
	}
	if model.SessionID("/logs/a.jsonl") == model.SessionID("/logs/b.jsonl") {
		t.Error("distinct paths collided")
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "proj-a")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"one.jsonl", "two.jsonl", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(sub, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := Discover(model.SourceClaude, root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("discovered %d files, want 2", len(files))
	}
	for _, f := range files {
		if f.Source != model.SourceClaude || f.SizeBytes == 0 || f.MtimeNs == 0 {
			t.Errorf("incomplete file info: %+v", f)
		}
	}

	// Codex only takes rollout files.
	codexRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(codexRoot, "rollout-x.jsonl"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(codexRoot, "other.jsonl"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	files, err = Discover(model.SourceCodex, codexRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("discovered %d codex files, want 1", len(files))
	}

	// Missing root is not an error.
	files, err = Discover(model.SourceClaude, filepath.Join(root, "nope"))
	if err != nil || files != nil {
		t.Errorf("missing root: files=%v err=%v", files, err)
	}
}

func TestFindByID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "one.jsonl")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	f, ok := FindByID(model.SourceClaude, root, model.SessionID(path))
	if !ok || f.Path != path {
		t.Errorf("FindByID = (%+v, %v)", f, ok)
	}
	if _, ok := FindByID(model.SourceClaude, root, "unknown"); ok {
		t.Error("found a session that does not exist")
	}
}
