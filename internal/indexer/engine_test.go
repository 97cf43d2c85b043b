package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/parser"
)

func fakeFiles(paths ...string) []parser.FileInfo {
	files := make([]parser.FileInfo, len(paths))
	for i, p := range paths {
		files[i] = parser.FileInfo{
			Path:    p,
			Source:  model.SourceClaude,
			MtimeNs: int64(100 - i), // first path is newest
		}
	}
	return files
}

func fakeParse(path string, source model.Source) *model.Session {
	return &model.Session{
		ID:       model.SessionID(path),
		Source:   source,
		FilePath: path,
	}
}

func TestHydrateFastPathSkipsDiscovery(t *testing.T) {
	engine := New(0)
	discovered := false

	hydrate := func() ([]*model.Session, error) {
		return []*model.Session{{ID: "aaa"}}, nil
	}
	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			discovered = true
			return nil, nil
		},
		ParseFile: fakeParse,
	}

	result, err := engine.HydrateOrScan(context.Background(), hydrate, cfg)
	require.NoError(t, err)
	require.Equal(t, KindHydrated, result.Kind)
	require.Len(t, result.Sessions, 1)
	require.False(t, discovered, "hydrate fast path must not invoke discovery")
}

func TestHydrateRetriesOnceAfterBackoff(t *testing.T) {
	engine := New(0)
	calls := 0
	hydrate := func() ([]*model.Session, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []*model.Session{{ID: "aaa"}}, nil
	}

	result, err := engine.HydrateOrScan(context.Background(), hydrate, ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) { return nil, nil },
		ParseFile:     fakeParse,
	})
	require.NoError(t, err)
	require.Equal(t, KindHydrated, result.Kind)
	require.Equal(t, 2, calls)
}

func TestScanIsIdempotent(t *testing.T) {
	engine := New(0)
	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			return fakeFiles("/logs/a.jsonl", "/logs/b.jsonl", "/logs/c.jsonl"), nil
		},
		ParseFile: fakeParse,
	}

	first, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Equal(t, KindScanned, first.Kind)
	require.Len(t, first.Sessions, 3)

	second, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)

	for i := range first.Sessions {
		require.Equal(t, first.Sessions[i].ID, second.Sessions[i].ID)
	}
	// Newest mtime first.
	require.Equal(t, "/logs/a.jsonl", first.Sessions[0].FilePath)
	require.Equal(t, "/logs/c.jsonl", first.Sessions[2].FilePath)
}

func TestScanCooperativeCancellation(t *testing.T) {
	engine := New(0)
	checks := 0
	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			return fakeFiles("/a", "/b", "/c", "/d"), nil
		},
		ParseFile: fakeParse,
		Workers:   1,
		ShouldContinue: func() bool {
			checks++
			return checks <= 2
		},
	}

	result, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Equal(t, KindScanned, result.Kind)
	// The scan stopped early but files already dispatched completed.
	require.Len(t, result.Sessions, 2)
}

func TestScanMergesArchivedFallback(t *testing.T) {
	engine := New(0)
	live := fakeParse("/logs/a.jsonl", model.SourceClaude)
	archivedOnly := &model.Session{ID: "gone", Source: model.SourceClaude}
	duplicate := &model.Session{ID: live.ID, Source: model.SourceClaude}

	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			return fakeFiles("/logs/a.jsonl"), nil
		},
		ParseFile: fakeParse,
		ArchivedSessions: func() []*model.Session {
			return []*model.Session{archivedOnly, duplicate}
		},
	}

	result, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 2)
	require.Equal(t, "gone", result.Sessions[1].ID)

	cfg.SkipArchivedMerge = true
	result, err = engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
}

func TestScanSurvivesUpsertFailures(t *testing.T) {
	engine := New(0)
	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			return fakeFiles("/logs/a.jsonl", "/logs/b.jsonl"), nil
		},
		ParseFile: fakeParse,
		OnParsed: func(sess *model.Session, mtimeNs int64) error {
			return errors.New("index unavailable")
		},
	}

	result, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 2)
}

func TestNewerInvocationSupersedesOlder(t *testing.T) {
	engine := New(0)
	inner := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) { return nil, nil },
		ParseFile:     fakeParse,
	}
	// The outer invocation's discovery starts a newer invocation before the
	// outer one can publish.
	outer := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			_, err := engine.HydrateOrScan(context.Background(), nil, inner)
			require.NoError(t, err)
			return fakeFiles("/logs/a.jsonl"), nil
		},
		ParseFile: fakeParse,
	}

	_, err := engine.HydrateOrScan(context.Background(), nil, outer)
	require.ErrorIs(t, err, ErrSuperseded)
}

func TestScanProgressThrottled(t *testing.T) {
	engine := New(0)
	var mu sync.Mutex
	var reports []int

	cfg := ScanConfig{
		DiscoverFiles: func() ([]parser.FileInfo, error) {
			return fakeFiles("/a", "/b", "/c", "/d", "/e"), nil
		},
		ParseFile:     fakeParse,
		Workers:       1,
		ProgressEvery: 2,
		Progress: func(done, total int) {
			mu.Lock()
			reports = append(reports, done)
			mu.Unlock()
		},
	}

	_, err := engine.HydrateOrScan(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, 5}, reports)
}
