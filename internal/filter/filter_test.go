package filter

import (
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

func eventfulSession() *model.Session {
	return &model.Session{
		ID:        "full",
		Source:    model.SourceClaude,
		StartTime: time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC),
		Model:     "claude-sonnet-4",
		FilePath:  "/home/u/.claude/projects/vault/s.jsonl",
		CWD:       "/home/u/projects/vault",
		RepoName:  "vault",
		Title:     "debug the importer",
		Events: []model.SessionEvent{
			{Kind: model.KindUser, Role: "user", Text: "why does the importer crash"},
			{Kind: model.KindAssistant, Role: "assistant", Text: "the batch size overflows"},
			{Kind: model.KindToolCall, ToolName: "Bash", ToolInput: "go test ./importer"},
			{Kind: model.KindToolResult, ToolOutput: "panic: runtime error"},
		},
	}
}

func lightweightSession() *model.Session {
	return &model.Session{
		ID:        "light",
		Source:    model.SourceCodex,
		StartTime: time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC),
		Model:     "gpt-5.2",
		FilePath:  "/home/u/.codex/sessions/rollout-1.jsonl",
		RepoName:  "vault",
		Title:     "quick question",
	}
}

func TestParseOperators(t *testing.T) {
	tests := []struct {
		query                    string
		wantRepo, wantPath, want string
	}{
		{"repo:foo path:/bar hello world", "foo", "/bar", "hello world"},
		{"hello repo:foo world", "foo", "", "hello world"},
		{`repo:"vault" test`, "vault", "", "test"},
		{"plain query", "", "", "plain query"},
		{"", "", "", ""},
		{"path:'/tmp/x'", "", "/tmp/x", ""},
	}
	for _, tt := range tests {
		repo, path, free := ParseOperators(tt.query)
		if repo != tt.wantRepo || path != tt.wantPath || free != tt.want {
			t.Errorf("ParseOperators(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.query, repo, path, free, tt.wantRepo, tt.wantPath, tt.want)
		}
	}
}

func TestParseOperatorsQuotedValue(t *testing.T) {
	// A quoted single-token value loses its quotes.
	repo, _, free := ParseOperators(`repo:"vault" fix`)
	if repo != "vault" {
		t.Errorf("repo = %q", repo)
	}
	if free != "fix" {
		t.Errorf("free = %q", free)
	}
}

func TestExplicitFieldsBeatOperators(t *testing.T) {
	f := Filter{Query: "repo:fromquery hello", RepoName: "explicit"}
	repo, _, free := f.effective()
	if repo != "explicit" {
		t.Errorf("repo = %q, want explicit field to win", repo)
	}
	if free != "hello" {
		t.Errorf("free = %q", free)
	}
}

func TestDateRangeUsesEffectiveTime(t *testing.T) {
	s := eventfulSession()

	f := Filter{DateFrom: time.Date(2026, 8, 10, 9, 30, 0, 0, time.UTC)}
	if !f.Matches(s, nil) {
		t.Error("end time inside range should match")
	}

	f = Filter{DateTo: time.Date(2026, 8, 9, 0, 0, 0, 0, time.UTC)}
	if f.Matches(s, nil) {
		t.Error("session after the range should not match")
	}

	noTimes := &model.Session{ID: "x", Events: s.Events}
	f = Filter{DateFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if f.Matches(noTimes, nil) {
		t.Error("session without timestamps cannot satisfy a date filter")
	}
}

func TestModelAndSubstringFilters(t *testing.T) {
	s := eventfulSession()

	if !(&Filter{Model: "claude-sonnet-4"}).Matches(s, nil) {
		t.Error("exact model should match")
	}
	if (&Filter{Model: "claude-sonnet"}).Matches(s, nil) {
		t.Error("model match is exact, not substring")
	}
	if !(&Filter{RepoName: "VAU"}).Matches(s, nil) {
		t.Error("repo match is a case-insensitive substring")
	}
	if !(&Filter{PathContains: "projects/vault"}).Matches(s, nil) {
		t.Error("path filter checks file path and cwd")
	}
	if (&Filter{PathContains: "elsewhere"}).Matches(s, nil) {
		t.Error("unrelated path should not match")
	}
}

func TestKindsIntersection(t *testing.T) {
	s := eventfulSession()

	f := Filter{Kinds: []model.EventKind{model.KindToolCall, model.KindUser}}
	if !f.Matches(s, nil) {
		t.Error("all requested kinds are present")
	}

	f = Filter{Kinds: []model.EventKind{model.KindError}}
	if f.Matches(s, nil) {
		t.Error("missing kind should fail the filter")
	}

	// Lightweight sessions skip the kind check entirely.
	if !f.Matches(lightweightSession(), nil) {
		t.Error("kind filter must be skipped for lightweight sessions")
	}
}

func TestTieredFreeTextMatching(t *testing.T) {
	light := lightweightSession()

	// Empty query always matches.
	if !(&Filter{Query: ""}).Matches(light, nil) {
		t.Error("empty query must match a lightweight session")
	}
	if !(&Filter{Query: ""}).Matches(light, NewTranscriptCache()) {
		t.Error("empty query must match regardless of cache")
	}

	// Non-empty query with no cache hit cannot match a lightweight session.
	if (&Filter{Query: "anything"}).Matches(light, NewTranscriptCache()) {
		t.Error("lightweight session without cached transcript must not match")
	}

	// A cached transcript restores full-fidelity matching.
	cache := NewTranscriptCache()
	cache.Put(light.ID, "user: tell me about the importer\nassistant: sure")
	if !(&Filter{Query: "importer"}).Matches(light, cache) {
		t.Error("cached transcript should satisfy the query")
	}
	if (&Filter{Query: "zebra"}).Matches(light, cache) {
		t.Error("cached transcript does not contain the query")
	}
}

func TestFreeTextGeneratesTranscriptOnDemand(t *testing.T) {
	s := eventfulSession()
	cache := NewTranscriptCache()

	if !(&Filter{Query: "overflows"}).Matches(s, cache) {
		t.Error("assistant text should be found via generated transcript")
	}
	if _, ok := cache.Lookup(s.ID); !ok {
		t.Error("on-demand transcript should be cached")
	}
}

func TestFreeTextFieldFallbackWithoutCache(t *testing.T) {
	s := eventfulSession()

	// No cache: fall back to field-level substring search.
	if !(&Filter{Query: "importer"}).Matches(s, nil) {
		t.Error("title should match in fallback tier")
	}
	if !(&Filter{Query: "runtime error"}).Matches(s, nil) {
		t.Error("tool output should match in fallback tier")
	}
	if (&Filter{Query: "nonexistent"}).Matches(s, nil) {
		t.Error("absent text should not match")
	}
}

func TestOperatorsInsideMatchQuery(t *testing.T) {
	s := eventfulSession()

	if !(&Filter{Query: "repo:vault importer"}).Matches(s, nil) {
		t.Error("operator plus free text should match")
	}
	if (&Filter{Query: "repo:other importer"}).Matches(s, nil) {
		t.Error("operator mismatch should fail before free text")
	}
}

func TestTranscriptCacheSingleRender(t *testing.T) {
	s := eventfulSession()
	cache := NewTranscriptCache()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.GetOrGenerate(s)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != results[0] {
			t.Fatal("concurrent callers saw different transcripts")
		}
	}
	if cache.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", cache.Len())
	}
}

func TestWarmSkipsLightweight(t *testing.T) {
	cache := NewTranscriptCache()
	cache.Warm([]*model.Session{eventfulSession(), lightweightSession()})
	if cache.Len() != 1 {
		t.Errorf("warm cached %d transcripts, want 1", cache.Len())
	}
	if _, ok := cache.Lookup("light"); ok {
		t.Error("lightweight sessions have no transcript to warm")
	}
}

func TestRankByTitle(t *testing.T) {
	sessions := []*model.Session{
		{ID: "a", Title: "refactor websocket handler"},
		{ID: "b", Title: "write docs"},
		{ID: "c", Title: "websocket reconnect bug"},
	}
	ranked := RankByTitle(sessions, "websocket")
	if len(ranked) != 2 {
		t.Fatalf("ranked %d sessions, want 2", len(ranked))
	}
	for _, s := range ranked {
		if s.ID == "b" {
			t.Error("non-matching title should be dropped")
		}
	}
	if got := RankByTitle(sessions, ""); len(got) != 3 {
		t.Error("empty query returns the input unchanged")
	}
}
