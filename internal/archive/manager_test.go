package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(Config{
		Root:               filepath.Join(t.TempDir(), "archives"),
		SyncInterval:       time.Hour, // keep timers out of the way
		InactivityWindow:   30 * time.Minute,
		ConsistencyRetries: 4,
		OrphanGrace:        24 * time.Hour,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr
}

func writeUpstream(t *testing.T, content string) (*model.Session, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	sess := &model.Session{
		ID:       model.SessionID(path),
		Source:   model.SourceClaude,
		FilePath: path,
		Title:    "pinned session",
	}
	return sess, path
}

func TestPinAndCommitConsistency(t *testing.T) {
	mgr := newTestManager(t)
	sess, upstream := writeUpstream(t, "line one\nline two\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// The committed manifest equals a fresh upstream scan.
	committed, ok := mgr.readCommittedManifest(sess.Source, sess.ID)
	require.True(t, ok)
	rescan, err := buildManifest(upstream)
	require.NoError(t, err)
	require.True(t, committed.Equal(rescan))

	// The archived data matches upstream byte for byte.
	archived := filepath.Join(mgr.sessionDir(sess.Source, sess.ID), dataDirName, "session.jsonl")
	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two\n", string(data))

	info, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.ArchiveSyncing, info.Status)
	require.Empty(t, info.LastError)
	require.False(t, info.LastSyncAt.IsZero())
	require.Equal(t, rescan.TotalBytes(), info.ArchiveSizeBytes)
}

func TestSyncNoOpWhenUpstreamUnchanged(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := writeUpstream(t, "stable content\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	first, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)

	scans := 0
	realScan := mgr.scan
	mgr.scan = func(upstream string) (model.Manifest, error) {
		scans++
		return realScan(upstream)
	}

	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))
	require.Equal(t, 1, scans, "no-op path scans once and skips the copy")

	second, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.Equal(t, first.LastSyncAt.Unix(), second.LastSyncAt.Unix())
}

func TestSyncPicksUpUpstreamChange(t *testing.T) {
	mgr := newTestManager(t)
	sess, upstream := writeUpstream(t, "v1\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	require.NoError(t, os.WriteFile(upstream, []byte("v1\nv2 appended\n"), 0644))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	archived := filepath.Join(mgr.sessionDir(sess.Source, sess.ID), dataDirName, "session.jsonl")
	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	require.Equal(t, "v1\nv2 appended\n", string(data))
}

func TestRetryBoundExhaustionCommitsBestEffort(t *testing.T) {
	mgr := newTestManager(t)
	sess, upstream := writeUpstream(t, "hot file\n")
	require.NoError(t, mgr.Pin(sess))
	// Drain the sync Pin scheduled so the fake below is installed strictly
	// between sync runs and counts exactly one run.
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// Every scan sees a different manifest, as if upstream never settles.
	scans := 0
	mgr.scan = func(string) (model.Manifest, error) {
		scans++
		return model.Manifest{Entries: []model.ManifestEntry{{
			RelativePath: filepath.Base(upstream),
			SizeBytes:    int64(scans),
			MtimeSeconds: int64(scans),
		}}}, nil
	}

	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// One initial scan plus exactly one re-scan per configured retry.
	require.Equal(t, 1+mgr.cfg.ConsistencyRetries, scans)

	info, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.ArchiveSyncing, info.Status)
	require.Contains(t, info.LastError, "best-effort")

	// The best-effort snapshot was still committed.
	archived := filepath.Join(mgr.sessionDir(sess.Source, sess.ID), dataDirName, filepath.Base(upstream))
	require.FileExists(t, archived)
}

func TestSyncRetriesUntilStable(t *testing.T) {
	mgr := newTestManager(t)
	sess, upstream := writeUpstream(t, "settling\n")
	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// First two scans disagree, then upstream settles.
	scans := 0
	realScan := mgr.scan
	mgr.scan = func(path string) (model.Manifest, error) {
		scans++
		if scans < 3 {
			return model.Manifest{Entries: []model.ManifestEntry{{
				RelativePath: filepath.Base(upstream),
				SizeBytes:    int64(scans),
				MtimeSeconds: int64(scans),
			}}}, nil
		}
		return realScan(path)
	}

	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	info, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.Empty(t, info.LastError)

	committed, ok := mgr.readCommittedManifest(sess.Source, sess.ID)
	require.True(t, ok)
	rescan, err := buildManifest(upstream)
	require.NoError(t, err)
	require.True(t, committed.Equal(rescan))
}

func TestUpstreamVanishedKeepsArchive(t *testing.T) {
	mgr := newTestManager(t)
	sess, upstream := writeUpstream(t, "only copy\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	require.NoError(t, os.Remove(upstream))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	info, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.True(t, info.UpstreamMissing)

	archived := filepath.Join(mgr.sessionDir(sess.Source, sess.ID), dataDirName, "session.jsonl")
	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	require.Equal(t, "only copy\n", string(data))

	fallbacks := mgr.FallbackSessions()
	require.Len(t, fallbacks, 1)
	require.Equal(t, sess.ID, fallbacks[0].ID)
	require.Equal(t, archived, fallbacks[0].FilePath)
}

func TestSettleToFinalAfterInactivity(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := writeUpstream(t, "quiet\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// Re-sync with the clock pushed past the inactivity window.
	mgr.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	info, err := mgr.readMeta(sess.Source, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.ArchiveFinal, info.Status)
}

func TestUnpinRemovesArchive(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := writeUpstream(t, "bye\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))
	require.NoError(t, mgr.Unpin(sess.Source, sess.ID))

	_, err := os.Stat(mgr.sessionDir(sess.Source, sess.ID))
	require.True(t, os.IsNotExist(err))

	// Unpinning twice is fine.
	require.NoError(t, mgr.Unpin(sess.Source, sess.ID))
}

func TestUnpinDuringSyncStaysRemoved(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := writeUpstream(t, "racy\n")

	require.NoError(t, mgr.Pin(sess))
	require.NoError(t, mgr.SyncNow(sess.Source, sess.ID))

	// Block the next sync inside its manifest scan, then unpin while it is
	// still mid-flight.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	realScan := mgr.scan
	mgr.scan = func(path string) (model.Manifest, error) {
		once.Do(func() { close(entered) })
		<-release
		return realScan(path)
	}

	mgr.Sync(sess.Source, sess.ID)
	<-entered

	unpinDone := make(chan error, 1)
	go func() { unpinDone <- mgr.Unpin(sess.Source, sess.ID) }()

	// Unpin must queue behind the in-flight sync, not race its commit.
	select {
	case <-unpinDone:
		t.Fatal("unpin completed while a sync was mid-flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-unpinDone)
	require.NoDirExists(t, mgr.sessionDir(sess.Source, sess.ID))

	// A later sync of the unpinned session fails fast and recreates nothing.
	require.Error(t, mgr.SyncNow(sess.Source, sess.ID))
	require.NoDirExists(t, mgr.sessionDir(sess.Source, sess.ID))
}

func TestListArchives(t *testing.T) {
	mgr := newTestManager(t)

	var ids []string
	for i := 0; i < 3; i++ {
		sess, _ := writeUpstream(t, fmt.Sprintf("content %d\n", i))
		require.NoError(t, mgr.Pin(sess))
		ids = append(ids, sess.ID)
	}

	infos, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	for _, info := range infos {
		require.Contains(t, ids, info.SessionID)
		require.Equal(t, model.SourceClaude, info.Source)
	}
}

func TestSweepOrphans(t *testing.T) {
	mgr := newTestManager(t)

	srcDir := filepath.Join(mgr.cfg.Root, "claude")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, ".staging-x-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, ".backup-y-2"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "keepme"), 0755))

	// Everything on disk is younger than the grace period until the clock
	// moves.
	mgr.sweepOrphans()
	require.DirExists(t, filepath.Join(srcDir, ".staging-x-1"))

	mgr.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	mgr.sweepOrphans()
	require.NoDirExists(t, filepath.Join(srcDir, ".staging-x-1"))
	require.NoDirExists(t, filepath.Join(srcDir, ".backup-y-2"))
	require.DirExists(t, filepath.Join(srcDir, "keepme"))
}

func TestManifestEquality(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("aaa"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.jsonl"), []byte("bbbb"), 0644))

	m1, err := buildManifest(dir)
	require.NoError(t, err)
	m2, err := buildManifest(dir)
	require.NoError(t, err)
	require.True(t, m1.Equal(m2))
	require.Len(t, m1.Entries, 2)
	require.Equal(t, "a.jsonl", m1.Entries[0].RelativePath)
	require.Equal(t, "sub/b.jsonl", m1.Entries[1].RelativePath)
	require.NotEmpty(t, m1.Entries[0].SHA256, "small files are hashed")
	require.Equal(t, int64(7), m1.TotalBytes())

	// Any content change breaks equality.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("aXa"), 0644))
	m3, err := buildManifest(dir)
	require.NoError(t, err)
	require.False(t, m1.Equal(m3))
}
