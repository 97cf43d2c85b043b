package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// manifestScanner snapshots an upstream location. Tests swap in a scanner
// that mutates between calls to exercise the retry bound.
type manifestScanner func(upstream string) (model.Manifest, error)

// buildManifest snapshots one upstream location, which is either a single
// file or a directory tree. Entries come back sorted by relative path so two
// scans of identical state compare equal. Files small enough get a content
// hash; large ones are compared by size and mtime only.
func buildManifest(upstream string) (model.Manifest, error) {
	info, err := os.Stat(upstream)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("archive: stat upstream: %w", err)
	}

	var entries []model.ManifestEntry
	if !info.IsDir() {
		entry, err := manifestEntry(upstream, filepath.Base(upstream), info)
		if err != nil {
			return model.Manifest{}, err
		}
		return model.Manifest{Entries: []model.ManifestEntry{entry}}, nil
	}

	err = filepath.WalkDir(upstream, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(upstream, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			// File vanished mid-walk; the next re-scan will disagree and
			// trigger a retry, which is the behavior we want.
			return nil
		}
		entry, err := manifestEntry(path, filepath.ToSlash(rel), fi)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return model.Manifest{}, fmt.Errorf("archive: scan upstream: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelativePath < entries[j].RelativePath
	})
	return model.Manifest{Entries: entries}, nil
}

func manifestEntry(path, rel string, info fs.FileInfo) (model.ManifestEntry, error) {
	entry := model.ManifestEntry{
		RelativePath: rel,
		SizeBytes:    info.Size(),
		MtimeSeconds: info.ModTime().Unix(),
	}
	if info.Size() <= model.ManifestHashLimit {
		sum, err := hashFile(path)
		if err != nil {
			return entry, fmt.Errorf("archive: hash %s: %w", rel, err)
		}
		entry.SHA256 = sum
	}
	return entry, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyManifestEntries copies every manifest entry from the upstream location
// into dst, preserving the relative layout.
func copyManifestEntries(upstream string, upstreamIsDir bool, m model.Manifest, dst string) error {
	for _, entry := range m.Entries {
		src := upstream
		if upstreamIsDir {
			src = filepath.Join(upstream, filepath.FromSlash(entry.RelativePath))
		}
		target := filepath.Join(dst, filepath.FromSlash(entry.RelativePath))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("archive: mkdir for %s: %w", entry.RelativePath, err)
		}
		if err := copyFile(src, target); err != nil {
			return fmt.Errorf("archive: copy %s: %w", entry.RelativePath, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
