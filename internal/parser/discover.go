package parser

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// FileInfo is one discovered session log candidate.
type FileInfo struct {
	Path      string
	Source    model.Source
	SizeBytes int64
	MtimeNs   int64
}

// DefaultRoot returns the conventional log directory for a source, or ""
// when the tool has no well-known location.
func DefaultRoot(source model.Source) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch source {
	case model.SourceClaude:
		return filepath.Join(home, ".claude", "projects")
	case model.SourceCodex:
		return filepath.Join(home, ".codex", "sessions")
	case model.SourceGemini:
		return filepath.Join(home, ".gemini", "tmp")
	case model.SourceOpenCode:
		return filepath.Join(home, ".local", "share", "opencode", "storage")
	case model.SourceAmp:
		return filepath.Join(home, ".amp", "file-changes")
	case model.SourceCursor:
		return filepath.Join(home, ".cursor", "chats")
	}
	return ""
}

// Discover walks a source's log root and returns every session log file,
// with its current size and mtime captured at walk time. A missing root is
// not an error; the source simply has nothing yet.
func Discover(source model.Source, root string) ([]FileInfo, error) {
	if root == "" {
		root = DefaultRoot(source)
	}
	if root == "" {
		return nil, nil
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip unreadable subtrees rather than failing the whole walk.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !isSessionLog(source, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{
			Path:      path,
			Source:    source,
			SizeBytes: info.Size(),
			MtimeNs:   info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FindByID locates the discovered file whose derived session id matches.
// Used when an archive record must be re-bound to its upstream after the
// index lost track of the path.
func FindByID(source model.Source, root, sessionID string) (FileInfo, bool) {
	files, err := Discover(source, root)
	if err != nil {
		return FileInfo{}, false
	}
	for _, f := range files {
		if model.SessionID(f.Path) == sessionID {
			return f, true
		}
	}
	return FileInfo{}, false
}

func isSessionLog(source model.Source, name string) bool {
	switch source {
	case model.SourceClaude:
		return strings.HasSuffix(name, ".jsonl")
	case model.SourceCodex:
		return strings.HasPrefix(name, "rollout-") && strings.HasSuffix(name, ".jsonl")
	default:
		return strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".json")
	}
}
