// Package filter decides whether sessions match structured and free-text
// criteria. Matching is pure and stateless; the transcript cache it consults
// for accurate free-text search is the only shared resource.
package filter

import (
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// Filter is one set of matching criteria. Zero values mean "no constraint".
type Filter struct {
	// Query is free text; repo: and path: operator tokens inside it are
	// extracted before matching.
	Query string

	DateFrom time.Time
	DateTo   time.Time

	// Model must match exactly when set.
	Model string

	// Kinds lists event kinds that must all be represented in the session.
	// Skipped for lightweight sessions, whose kinds cannot be determined.
	Kinds []model.EventKind

	// RepoName and PathContains are case-insensitive substrings. When set
	// explicitly they take precedence over operators parsed from Query.
	RepoName     string
	PathContains string
}

// ParseOperators splits a query on whitespace, consumes repo: and path:
// tokens into structured fields, and rejoins the rest as the effective free
// text. Surrounding quotes on operator values are stripped.
func ParseOperators(query string) (repo, path, freeText string) {
	var rest []string
	for _, token := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(token, "repo:"):
			repo = strings.Trim(token[len("repo:"):], `"'`)
		case strings.HasPrefix(token, "path:"):
			path = strings.Trim(token[len("path:"):], `"'`)
		default:
			rest = append(rest, token)
		}
	}
	return repo, path, strings.Join(rest, " ")
}

// effective resolves operator tokens against the explicit fields.
func (f *Filter) effective() (repo, path, freeText string) {
	repo, path, freeText = ParseOperators(f.Query)
	if f.RepoName != "" {
		repo = f.RepoName
	}
	if f.PathContains != "" {
		path = f.PathContains
	}
	return repo, path, freeText
}

// Matches reports whether one session satisfies the filter. cache may be nil;
// free-text matching then degrades to field-level substring search.
func (f *Filter) Matches(s *model.Session, cache *TranscriptCache) bool {
	if s == nil {
		return false
	}

	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		t := s.EffectiveTime()
		if t.IsZero() {
			return false
		}
		if !f.DateFrom.IsZero() && t.Before(f.DateFrom) {
			return false
		}
		if !f.DateTo.IsZero() && t.After(f.DateTo) {
			return false
		}
	}

	if f.Model != "" && s.Model != f.Model {
		return false
	}

	repo, path, freeText := f.effective()
	if repo != "" && !containsFold(s.RepoName, repo) {
		return false
	}
	if path != "" && !containsFold(s.FilePath, path) && !containsFold(s.CWD, path) {
		return false
	}

	if len(f.Kinds) > 0 && !s.IsLightweight() && !hasAllKinds(s, f.Kinds) {
		return false
	}

	return f.matchesFreeText(s, freeText, cache)
}

// matchesFreeText degrades across fidelity tiers: a cached or generated full
// transcript, then (for lightweight sessions with no cache hit) empty-query
// only, then field-level substring fallback.
func (f *Filter) matchesFreeText(s *model.Session, freeText string, cache *TranscriptCache) bool {
	if freeText == "" {
		return true
	}
	query := strings.ToLower(freeText)

	if cache != nil {
		if transcript, ok := cache.Lookup(s.ID); ok {
			return strings.Contains(strings.ToLower(transcript), query)
		}
	}

	// No events means no transcript to generate and nothing to search.
	if s.IsLightweight() {
		return false
	}

	if cache != nil {
		transcript := cache.GetOrGenerate(s)
		return strings.Contains(strings.ToLower(transcript), query)
	}

	return matchFields(s, query)
}

// matchFields is the lowest-fidelity tier: substring search across title,
// repo, the first user message and every event's text and tool payloads.
func matchFields(s *model.Session, query string) bool {
	if containsFold(s.Title, query) || containsFold(s.RepoName, query) || containsFold(s.FirstUserText(), query) {
		return true
	}
	for i := range s.Events {
		ev := &s.Events[i]
		if containsFold(ev.Text, query) ||
			containsFold(ev.ToolInput, query) ||
			containsFold(ev.ToolOutput, query) {
			return true
		}
	}
	return false
}

func hasAllKinds(s *model.Session, kinds []model.EventKind) bool {
	present := make(map[model.EventKind]struct{}, 4)
	for i := range s.Events {
		present[s.Events[i].Kind] = struct{}{}
	}
	for _, k := range kinds {
		if _, ok := present[k]; !ok {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// RankByTitle orders sessions by fuzzy title relevance for a query, best
// match first. Sessions whose titles do not match at all are dropped. Used to
// surface likely candidates above the plain filter results.
func RankByTitle(sessions []*model.Session, query string) []*model.Session {
	if query == "" {
		return sessions
	}
	titles := make([]string, len(sessions))
	for i, s := range sessions {
		titles[i] = s.Title
	}
	matches := fuzzy.Find(query, titles)
	ranked := make([]*model.Session, 0, len(matches))
	for _, match := range matches {
		ranked = append(ranked, sessions[match.Index])
	}
	return ranked
}
