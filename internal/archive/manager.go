// Package archive maintains durable local copies of pinned sessions. The
// upstream log is written by an external uncoordinated process, so snapshot
// consistency comes from manifest re-scans rather than locks, and commits are
// atomic directory swaps.
package archive

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/asheshgoplani/agent-vault/internal/indexstore"
	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/platform"
)

const (
	metaFileName     = "meta.json"
	manifestFileName = "manifest.json"
	dataDirName      = "data"
	logFileName      = "archive.log"
)

// Config controls sync cadence and the consistency protocol.
type Config struct {
	Root               string
	SyncInterval       time.Duration // default 45s
	InactivityWindow   time.Duration // default 30m
	ConsistencyRetries int           // default 4
	OrphanGrace        time.Duration // default 24h
}

func (c *Config) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 45 * time.Second
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = 30 * time.Minute
	}
	if c.ConsistencyRetries <= 0 {
		c.ConsistencyRetries = 4
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = 24 * time.Hour
	}
}

// Manager serializes all pin/sync/delete work for one archive root on a
// single background queue. Sync attempts for the same session never overlap;
// the in-flight set drops duplicate enqueues.
type Manager struct {
	cfg   Config
	store *indexstore.Store
	// sourceRoots drives the discovery fallback during backfill.
	sourceRoots map[model.Source]string

	log       *slog.Logger
	logWriter *lumberjack.Logger

	scan manifestScanner
	now  func() time.Time

	mu         sync.Mutex
	inflight   map[string]struct{}
	noUpstream map[string]time.Time // negative backfill results, memoized

	queue chan func()
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewManager creates the archive root if needed and starts the background
// queue, the periodic resync timer and the orphan sweep. store may be nil;
// backfill then skips straight to filesystem discovery.
func NewManager(cfg Config, store *indexstore.Store, sourceRoots map[model.Source]string) (*Manager, error) {
	cfg.applyDefaults()
	if cfg.Root == "" {
		return nil, fmt.Errorf("archive: root not configured")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Root, logFileName),
		MaxSize:    1, // MB
		MaxBackups: 3,
	}

	m := &Manager{
		cfg:         cfg,
		store:       store,
		sourceRoots: sourceRoots,
		log:         slog.New(slog.NewTextHandler(logWriter, nil)),
		logWriter:   logWriter,
		scan:        buildManifest,
		now:         time.Now,
		inflight:    make(map[string]struct{}),
		noUpstream:  make(map[string]time.Time),
		queue:       make(chan func(), 64),
		stop:        make(chan struct{}),
	}

	m.wg.Add(1)
	go m.run()
	return m, nil
}

// run is the single background worker: it drains the queue and fires the
// periodic resync and orphan sweep between jobs.
func (m *Manager) run() {
	defer m.wg.Done()

	// Small jitter so several instances started together do not resync in
	// lockstep.
	jitter := time.Duration(rand.Int63n(int64(5 * time.Second)))
	resync := time.NewTicker(m.cfg.SyncInterval + jitter)
	defer resync.Stop()

	sweep := time.NewTicker(time.Hour)
	defer sweep.Stop()

	// One delayed pass shortly after startup picks up archives left mid-sync
	// by a previous run.
	startup := time.NewTimer(5 * time.Second)
	defer startup.Stop()

	for {
		select {
		case <-m.stop:
			return
		case job := <-m.queue:
			job()
		case <-startup.C:
			m.resyncAll()
			m.sweepOrphans()
		case <-resync.C:
			m.resyncAll()
		case <-sweep.C:
			m.sweepOrphans()
		}
	}
}

// Close stops the background worker and closes the log.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()
	_ = m.logWriter.Close()
}

// Pin marks a session for durable archival and schedules its first sync. The
// meta write runs on the background queue so it is serialized with every
// other mutation of the session's archive.
func (m *Manager) Pin(sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("archive: pin: no session")
	}

	info := &model.ArchiveInfo{
		SessionID:           sess.ID,
		Source:              sess.Source,
		UpstreamPath:        sess.FilePath,
		PrimaryRelativePath: filepath.Base(sess.FilePath),
		PinnedAt:            m.now(),
		Status:              model.ArchiveStaging,
	}
	if fi, err := os.Stat(sess.FilePath); err == nil && fi.IsDir() {
		info.UpstreamIsDirectory = true
	}
	info.CaptureDisplayMeta(sess)

	if err := m.runOnQueue(func() error { return m.writeMeta(info) }); err != nil {
		return err
	}
	m.log.Info("pinned", "session", sess.ID, "source", string(sess.Source), "upstream", sess.FilePath)
	m.enqueueSync(sess.ID, sess.Source)
	return nil
}

// Unpin removes a session's archive, preferring the platform trash so the
// delete is recoverable. The delete runs on the background queue: a sync
// already in flight for the session finishes (or commits) first, then the
// whole directory goes, so a commit can never resurrect an unpinned archive.
func (m *Manager) Unpin(source model.Source, sessionID string) error {
	return m.runOnQueue(func() error {
		dir := m.sessionDir(source, sessionID)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil
		}
		if err := platform.MoveToTrash(dir); err != nil {
			m.log.Warn("trash unavailable, deleting", "session", sessionID, "error", err)
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("archive: unpin %s: %w", sessionID, err)
			}
		}
		m.log.Info("unpinned", "session", sessionID)
		return nil
	})
}

// Sync schedules one session's sync on the background queue. Duplicate
// requests for a session already queued or running are dropped.
func (m *Manager) Sync(source model.Source, sessionID string) {
	m.enqueueSync(sessionID, source)
}

// SyncNow runs one session's sync on the queue and waits for it.
func (m *Manager) SyncNow(source model.Source, sessionID string) error {
	return m.runOnQueue(func() error { return m.syncSession(source, sessionID) })
}

// runOnQueue executes job on the background worker and waits for its result,
// serializing it against all other archive mutations. Must not be called from
// a queued job; the single worker would deadlock.
func (m *Manager) runOnQueue(job func() error) error {
	errCh := make(chan error, 1)
	select {
	case m.queue <- func() { errCh <- job() }:
	case <-m.stop:
		return fmt.Errorf("archive: manager stopped")
	}
	select {
	case err := <-errCh:
		return err
	case <-m.stop:
		return fmt.Errorf("archive: manager stopped")
	}
}

// SyncAll schedules a sync for every currently pinned session.
func (m *Manager) SyncAll() {
	select {
	case m.queue <- m.resyncAll:
	case <-m.stop:
	}
}

func (m *Manager) resyncAll() {
	infos, err := m.List()
	if err != nil {
		m.log.Warn("resync: list failed", "error", err)
		return
	}
	for _, info := range infos {
		if err := m.syncSession(info.Source, info.SessionID); err != nil {
			m.log.Warn("resync failed", "session", info.SessionID, "error", err)
		}
	}
}

func (m *Manager) enqueueSync(sessionID string, source model.Source) {
	m.mu.Lock()
	if _, busy := m.inflight[sessionID]; busy {
		m.mu.Unlock()
		return
	}
	m.inflight[sessionID] = struct{}{}
	m.mu.Unlock()

	job := func() {
		defer func() {
			m.mu.Lock()
			delete(m.inflight, sessionID)
			m.mu.Unlock()
		}()
		if err := m.syncSession(source, sessionID); err != nil {
			m.log.Warn("sync failed", "session", sessionID, "error", err)
		}
	}

	select {
	case m.queue <- job:
	case <-m.stop:
		m.mu.Lock()
		delete(m.inflight, sessionID)
		m.mu.Unlock()
	}
}

// List returns the ArchiveInfo of every pinned session under the root.
func (m *Manager) List() ([]*model.ArchiveInfo, error) {
	var infos []*model.ArchiveInfo

	sources, err := os.ReadDir(m.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("archive: list root: %w", err)
	}
	for _, src := range sources {
		if !src.IsDir() || strings.HasPrefix(src.Name(), ".") {
			continue
		}
		sessions, err := os.ReadDir(filepath.Join(m.cfg.Root, src.Name()))
		if err != nil {
			continue
		}
		for _, sess := range sessions {
			if !sess.IsDir() || strings.HasPrefix(sess.Name(), ".") {
				continue
			}
			info, err := m.readMeta(model.Source(src.Name()), sess.Name())
			if err != nil {
				m.log.Warn("unreadable archive meta", "session", sess.Name(), "error", err)
				continue
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// FallbackSessions returns lightweight sessions for archives whose upstream
// has vanished; the indexing engine merges these into scanned results.
func (m *Manager) FallbackSessions() []*model.Session {
	infos, err := m.List()
	if err != nil {
		return nil
	}
	var sessions []*model.Session
	for _, info := range infos {
		if !info.UpstreamMissing {
			continue
		}
		primary := filepath.Join(m.sessionDir(info.Source, info.SessionID), dataDirName, info.PrimaryRelativePath)
		if _, err := os.Stat(primary); err != nil {
			continue
		}
		sessions = append(sessions, info.ToFallbackSession(primary))
	}
	return sessions
}

func (m *Manager) sessionDir(source model.Source, sessionID string) string {
	return filepath.Join(m.cfg.Root, string(source), sessionID)
}

func (m *Manager) writeMeta(info *model.ArchiveInfo) error {
	dir := m.sessionDir(info.Source, info.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("archive: create session dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, metaFileName), info)
}

// writeJSON writes v atomically via a temp file rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("archive: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("archive: commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (m *Manager) readMeta(source model.Source, sessionID string) (*model.ArchiveInfo, error) {
	data, err := os.ReadFile(filepath.Join(m.sessionDir(source, sessionID), metaFileName))
	if err != nil {
		return nil, err
	}
	var info model.ArchiveInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *Manager) readCommittedManifest(source model.Source, sessionID string) (model.Manifest, bool) {
	data, err := os.ReadFile(filepath.Join(m.sessionDir(source, sessionID), manifestFileName))
	if err != nil {
		return model.Manifest{}, false
	}
	var manifest model.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return model.Manifest{}, false
	}
	return manifest, true
}

// sweepOrphans removes .staging-* and .backup-* directories older than the
// grace period, left behind by interrupted runs.
func (m *Manager) sweepOrphans() {
	cutoff := m.now().Add(-m.cfg.OrphanGrace)

	_ = filepath.WalkDir(m.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, ".staging-") && !strings.HasPrefix(name, ".backup-") {
			return nil
		}
		info, err := d.Info()
		if err == nil && info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(path); err != nil {
				m.log.Warn("orphan sweep failed", "dir", path, "error", err)
			} else {
				m.log.Info("swept orphan", "dir", path)
			}
		}
		return fs.SkipDir
	})
}

func transientDir(root string, source model.Source, prefix, sessionID string) string {
	return filepath.Join(root, string(source), fmt.Sprintf(".%s-%s-%s", prefix, sessionID, uuid.NewString()))
}
