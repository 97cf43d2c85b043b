// Package indexer produces session lists via the cheapest sufficient path:
// hydrate straight from the index store when it has rows, fall back to a
// filesystem scan with lightweight parses otherwise. New files are always
// found by the full scan, so no filesystem watcher is needed.
package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-vault/internal/logging"
	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/parser"
)

var log = logging.ForComponent(logging.CompIndexer)

// ErrSuperseded is returned when a newer invocation started while this one
// was running; the stale result is discarded rather than published.
var ErrSuperseded = errors.New("indexer: superseded by newer invocation")

// hydrateBackoff is the one-shot wait before retrying an empty hydrate,
// absorbing the race where the store is still warming.
const hydrateBackoff = 250 * time.Millisecond

// ResultKind tags which path produced a session list.
type ResultKind string

const (
	KindHydrated ResultKind = "hydrated"
	KindScanned  ResultKind = "scanned"
)

// Result is one invocation's outcome.
type Result struct {
	Kind     ResultKind
	Sessions []*model.Session
}

// HydrateFunc loads sessions directly from the index store. An empty slice
// with a nil error means the store has nothing yet.
type HydrateFunc func() ([]*model.Session, error)

// ScanConfig drives the fallback filesystem scan.
type ScanConfig struct {
	// DiscoverFiles enumerates session log candidates.
	DiscoverFiles func() ([]parser.FileInfo, error)

	// ParseFile is the lightweight per-file parse. A nil result skips the file.
	ParseFile func(path string, source model.Source) *model.Session

	// ShouldParseFile, when set, filters discovered files before parsing.
	ShouldParseFile func(parser.FileInfo) bool

	// OnParsed, when set, is called for each successful parse. Failures are
	// logged and do not abort the scan; the index stays best-effort.
	OnParsed func(sess *model.Session, mtimeNs int64) error

	// Progress, when set, reports (done, total) during the scan.
	Progress func(done, total int)

	// ProgressEvery throttles Progress to every Nth file (default: every file).
	ProgressEvery int

	// ShouldContinue is checked once per discovered file. Returning false
	// stops the scan cooperatively; a parse already started always completes.
	ShouldContinue func() bool

	// ArchivedSessions supplies archive-only fallback entries merged into a
	// scanned result, unless SkipArchivedMerge is set.
	ArchivedSessions  func() []*model.Session
	SkipArchivedMerge bool

	// Workers bounds parse parallelism (default 4).
	Workers int
}

// Engine runs hydrate-or-scan invocations. A newer invocation supersedes
// older in-flight ones; superseded results are never published.
type Engine struct {
	limiter *rate.Limiter
	token   atomic.Uint64
}

// New constructs an engine. scanRateLimit bounds parses per second during
// scans; 0 means unlimited.
func New(scanRateLimit int) *Engine {
	e := &Engine{}
	if scanRateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(scanRateLimit), scanRateLimit)
	}
	return e
}

// HydrateOrScan returns sessions via the fastest available path.
func (e *Engine) HydrateOrScan(ctx context.Context, hydrate HydrateFunc, cfg ScanConfig) (*Result, error) {
	token := e.token.Add(1)

	if hydrate != nil {
		sessions, err := e.tryHydrate(ctx, hydrate)
		if err != nil {
			log.Warn("hydrate failed, falling back to scan", "error", err)
		} else if len(sessions) > 0 {
			if e.token.Load() != token {
				return nil, ErrSuperseded
			}
			log.Debug("hydrated from index", "sessions", len(sessions))
			return &Result{Kind: KindHydrated, Sessions: sessions}, nil
		}
	}

	sessions, err := e.scan(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if e.token.Load() != token {
		return nil, ErrSuperseded
	}
	return &Result{Kind: KindScanned, Sessions: sessions}, nil
}

// tryHydrate calls hydrate, and once more after a short backoff if it came
// back empty.
func (e *Engine) tryHydrate(ctx context.Context, hydrate HydrateFunc) ([]*model.Session, error) {
	sessions, err := hydrate()
	if err != nil || len(sessions) > 0 {
		return sessions, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(hydrateBackoff):
	}
	return hydrate()
}

func (e *Engine) scan(ctx context.Context, cfg ScanConfig) ([]*model.Session, error) {
	if cfg.DiscoverFiles == nil || cfg.ParseFile == nil {
		return nil, errors.New("indexer: scan config missing discovery or parser")
	}

	files, err := cfg.DiscoverFiles()
	if err != nil {
		return nil, err
	}
	if cfg.ShouldParseFile != nil {
		kept := files[:0]
		for _, f := range files {
			if cfg.ShouldParseFile(f) {
				kept = append(kept, f)
			}
		}
		files = kept
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	progressEvery := cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = 1
	}

	var (
		mu       sync.Mutex
		sessions []*model.Session
		mtimes   = make(map[string]int64, len(files))
		done     int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	total := len(files)
	for _, f := range files {
		if cfg.ShouldContinue != nil && !cfg.ShouldContinue() {
			break
		}
		if gctx.Err() != nil {
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(gctx); err != nil {
				break
			}
		}

		g.Go(func() error {
			sess := cfg.ParseFile(f.Path, f.Source)

			mu.Lock()
			done++
			n := done
			if sess != nil {
				sessions = append(sessions, sess)
				mtimes[sess.FilePath] = f.MtimeNs
			}
			mu.Unlock()

			if sess != nil {
				logging.Aggregate(logging.CompIndexer, "file_parsed",
					slog.String("source", string(f.Source)))
				if cfg.OnParsed != nil {
					if err := cfg.OnParsed(sess, f.MtimeNs); err != nil {
						log.Warn("index upsert failed", "path", sess.FilePath, "error", err)
					}
				}
			} else {
				logging.Aggregate(logging.CompIndexer, "file_skipped",
					slog.String("source", string(f.Source)))
			}

			if cfg.Progress != nil && (n%progressEvery == 0 || n == total) {
				cfg.Progress(n, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(sessions, func(i, j int) bool {
		mi, mj := mtimes[sessions[i].FilePath], mtimes[sessions[j].FilePath]
		if mi != mj {
			return mi > mj
		}
		return sessions[i].ID < sessions[j].ID
	})

	if !cfg.SkipArchivedMerge && cfg.ArchivedSessions != nil {
		sessions = mergeArchived(sessions, cfg.ArchivedSessions())
	}
	log.Info("scan complete", "files", total, "sessions", len(sessions))
	return sessions, nil
}

// mergeArchived appends archive-only fallback entries whose upstream session
// is not already in the list.
func mergeArchived(sessions, archived []*model.Session) []*model.Session {
	if len(archived) == 0 {
		return sessions
	}
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		seen[s.ID] = struct{}{}
	}
	for _, a := range archived {
		if _, ok := seen[a.ID]; !ok {
			sessions = append(sessions, a)
		}
	}
	return sessions
}
