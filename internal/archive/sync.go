package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/parser"
)

// syncSession runs the snapshot-consistency protocol for one pinned session.
// Always invoked from the manager's background queue, never concurrently for
// the same session id.
func (m *Manager) syncSession(source model.Source, sessionID string) error {
	info, err := m.readMeta(source, sessionID)
	if err != nil {
		return fmt.Errorf("archive: sync %s: not pinned: %w", sessionID, err)
	}

	if info.UpstreamPath == "" && !m.backfillUpstream(info) {
		info.UpstreamMissing = true
		return m.writeMeta(info)
	}

	if _, err := os.Stat(info.UpstreamPath); err != nil {
		if os.IsNotExist(err) {
			// Keep the last committed snapshot; the archive is now the only
			// copy.
			if !info.UpstreamMissing {
				m.log.Info("upstream vanished", "session", sessionID, "upstream", info.UpstreamPath)
			}
			info.UpstreamMissing = true
			return m.writeMeta(info)
		}
		return m.failSync(info, fmt.Errorf("archive: stat upstream: %w", err))
	}
	info.UpstreamMissing = false
	info.LastUpstreamSeenAt = m.now()

	current, err := m.scan(info.UpstreamPath)
	if err != nil {
		return m.failSync(info, err)
	}

	// No-op fast path: committed snapshot already matches upstream.
	committed, hasCommit := m.readCommittedManifest(source, sessionID)
	primary := filepath.Join(m.sessionDir(source, sessionID), dataDirName, info.PrimaryRelativePath)
	if hasCommit && committed.Equal(current) && fileExists(primary) {
		m.settleStatus(info)
		return m.writeMeta(info)
	}

	info.Status = model.ArchiveStaging
	info.LastUpstreamChangeAt = m.now()
	info.LastError = ""
	if err := m.writeMeta(info); err != nil {
		return err
	}

	// Copy, re-scan, compare. Equal manifests around a copy prove the copy is
	// a consistent point-in-time snapshot.
	retries := m.cfg.ConsistencyRetries
	for attempt := 1; ; attempt++ {
		staging, err := m.copyToStaging(info, current)
		if err != nil {
			return m.failSync(info, err)
		}

		rescan, err := m.scan(info.UpstreamPath)
		if err != nil {
			_ = os.RemoveAll(staging)
			return m.failSync(info, err)
		}
		if rescan.Equal(current) {
			return m.commit(info, current, staging, "")
		}

		if attempt >= retries {
			// Upstream is hot and will not settle; a slightly stale snapshot
			// now beats no snapshot. The soft error keeps the condition
			// visible.
			soft := fmt.Sprintf("upstream changed during %d consecutive copy attempts; committed best-effort snapshot", retries)
			m.log.Warn("consistency retries exhausted", "session", info.SessionID, "attempts", retries)
			return m.commit(info, current, staging, soft)
		}

		_ = os.RemoveAll(staging)
		current = rescan
	}
}

// copyToStaging copies every manifest entry into a fresh staging directory
// laid out like a final archive.
func (m *Manager) copyToStaging(info *model.ArchiveInfo, manifest model.Manifest) (string, error) {
	staging := transientDir(m.cfg.Root, info.Source, "staging", info.SessionID)
	if err := os.MkdirAll(filepath.Join(staging, dataDirName), 0755); err != nil {
		return "", fmt.Errorf("archive: create staging: %w", err)
	}
	if err := copyManifestEntries(info.UpstreamPath, info.UpstreamIsDirectory, manifest, filepath.Join(staging, dataDirName)); err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	return staging, nil
}

// commit atomically swaps the staged snapshot into the final position. The
// final directory is always either the previous complete archive or the new
// one, never a partial mix.
func (m *Manager) commit(info *model.ArchiveInfo, manifest model.Manifest, staging, softError string) error {
	info.LastSyncAt = m.now()
	info.ArchiveSizeBytes = manifest.TotalBytes()
	info.LastError = softError
	info.Status = model.ArchiveSyncing

	if err := writeJSON(filepath.Join(staging, manifestFileName), manifest); err != nil {
		_ = os.RemoveAll(staging)
		return m.failSync(info, err)
	}
	if err := writeJSON(filepath.Join(staging, metaFileName), info); err != nil {
		_ = os.RemoveAll(staging)
		return m.failSync(info, err)
	}

	final := m.sessionDir(info.Source, info.SessionID)
	backup := ""
	if _, err := os.Stat(final); err == nil {
		backup = transientDir(m.cfg.Root, info.Source, "backup", info.SessionID)
		if err := os.Rename(final, backup); err != nil {
			_ = os.RemoveAll(staging)
			return m.failSync(info, fmt.Errorf("archive: move previous archive aside: %w", err))
		}
	}

	if err := os.Rename(staging, final); err != nil {
		// Restore the previous archive before reporting failure.
		_ = os.RemoveAll(final)
		_ = os.RemoveAll(staging)
		if backup != "" {
			_ = os.Rename(backup, final)
		}
		return m.failSync(info, fmt.Errorf("archive: commit: %w", err))
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}

	m.log.Info("committed snapshot",
		"session", info.SessionID,
		"files", len(manifest.Entries),
		"bytes", info.ArchiveSizeBytes,
		"best_effort", softError != "")
	return nil
}

// settleStatus flips a quiet archive to final once upstream has been
// unchanged for the inactivity window.
func (m *Manager) settleStatus(info *model.ArchiveInfo) {
	if !info.LastUpstreamChangeAt.IsZero() &&
		m.now().Sub(info.LastUpstreamChangeAt) >= m.cfg.InactivityWindow {
		info.Status = model.ArchiveFinal
	} else {
		info.Status = model.ArchiveSyncing
	}
}

// failSync records the failure on the archive record and returns it. Errors
// are isolated per session; the next scheduled sync retries from staging.
func (m *Manager) failSync(info *model.ArchiveInfo, err error) error {
	info.Status = model.ArchiveError
	info.LastError = err.Error()
	if werr := m.writeMeta(info); werr != nil {
		m.log.Warn("failed to persist sync error", "session", info.SessionID, "error", werr)
	}
	return err
}

// backfillUpstream resolves the upstream location of an archive pinned
// without one: first via the index store's metadata, then via a full
// per-source discovery. Negative results are memoized so repeated syncs do
// not rescan the filesystem every cycle.
func (m *Manager) backfillUpstream(info *model.ArchiveInfo) bool {
	m.mu.Lock()
	_, known := m.noUpstream[info.SessionID]
	m.mu.Unlock()
	if known {
		return false
	}

	if m.store != nil {
		row, err := m.store.SessionMetaByID(info.SessionID)
		if err != nil {
			m.log.Warn("backfill: index lookup failed", "session", info.SessionID, "error", err)
		} else if row != nil && row.FilePath != "" {
			if _, err := os.Stat(row.FilePath); err == nil {
				m.bindUpstream(info, row.FilePath)
				return true
			}
		}
	}

	if f, ok := parser.FindByID(info.Source, m.sourceRoots[info.Source], info.SessionID); ok {
		m.bindUpstream(info, f.Path)
		return true
	}

	m.mu.Lock()
	m.noUpstream[info.SessionID] = m.now()
	m.mu.Unlock()
	m.log.Info("backfill: upstream not found", "session", info.SessionID)
	return false
}

func (m *Manager) bindUpstream(info *model.ArchiveInfo, path string) {
	info.UpstreamPath = path
	info.PrimaryRelativePath = filepath.Base(path)
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		info.UpstreamIsDirectory = true
	}
	m.log.Info("backfill: upstream resolved", "session", info.SessionID, "upstream", path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
