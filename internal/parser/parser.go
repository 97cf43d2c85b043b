// Package parser holds the per-source log dialect parsers. Each dialect is
// two pure functions over file bytes: a lightweight metadata-only parse that
// stays cheap on very large files, and a full parse that materializes the
// complete event timeline. Dynamic JSON stays inside this package; everything
// past the boundary is the typed record model.
package parser

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// Dialect parses one agent tool's log format.
type Dialect interface {
	Source() model.Source

	// ParseFile populates metadata and an estimated event count without
	// materializing events. Returns nil for unreadable or unparseable files.
	ParseFile(path string) *model.Session

	// ParseFileFull materializes the complete ordered event list. forcedID,
	// when non-empty, overrides the derived session identity (used when the
	// canonical id was recovered from the index or an archive).
	ParseFileFull(path, forcedID string) *model.Session
}

var dialects = map[model.Source]Dialect{
	model.SourceClaude: claudeDialect{},
	model.SourceCodex:  codexDialect{},
}

// ForSource returns the dialect for a source, or nil when none is registered.
func ForSource(source model.Source) Dialect {
	return dialects[source]
}

// ParseFile dispatches a lightweight parse to the source's dialect.
func ParseFile(path string, source model.Source) *model.Session {
	d := ForSource(source)
	if d == nil {
		return nil
	}
	return d.ParseFile(path)
}

// ParseFileFull dispatches a full parse to the source's dialect.
func ParseFileFull(path string, source model.Source, forcedID string) *model.Session {
	d := ForSource(source)
	if d == nil {
		return nil
	}
	return d.ParseFileFull(path, forcedID)
}

// headSampleLimit bounds how much of a file the lightweight parse reads.
const headSampleLimit = 64 * 1024

// tailSampleLimit bounds the trailing byte range sampled for end times.
const tailSampleLimit = 16 * 1024

// repoNameFromCWD derives a display repo name from a working directory.
func repoNameFromCWD(cwd string) string {
	if cwd == "" {
		return ""
	}
	base := filepath.Base(cwd)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// truncateTitle bounds session titles for display and indexing.
func truncateTitle(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// truncateRaw bounds the raw-payload capture on an event.
func truncateRaw(line []byte) string {
	if len(line) > model.RawPayloadLimit {
		return string(line[:model.RawPayloadLimit])
	}
	return string(line)
}

// statFile returns size and mtime, or false for anything unreadable.
func statFile(path string) (int64, int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, 0, false
	}
	return info.Size(), info.ModTime().UnixNano(), true
}
