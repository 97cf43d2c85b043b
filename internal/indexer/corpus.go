package indexer

import (
	"context"
	"time"

	"github.com/asheshgoplani/agent-vault/internal/indexstore"
	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/parser"
)

// SyncSearchCorpus brings both full-text corpora up to date for one source.
// Files whose transcript or tool-IO rows are stale (mtime/size moved, or the
// format version bumped) get one full parse and fresh extractions; everything
// in the ready sets is skipped without touching the filesystem.
func SyncSearchCorpus(ctx context.Context, store *indexstore.Store, source model.Source, files []parser.FileInfo) (int, error) {
	searchReady, err := store.SearchReadyPaths(source)
	if err != nil {
		return 0, err
	}
	toolIOReady, err := store.ToolIOReadyPaths(source)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		_, searchOK := searchReady[f.Path]
		_, toolOK := toolIOReady[f.Path]
		if searchOK && toolOK {
			continue
		}

		sess := parser.ParseFileFull(f.Path, f.Source, "")
		if sess == nil {
			continue
		}
		// Keep the metadata row in step with the full parse so counts stop
		// being estimates once the file has been read in full.
		if err := store.IndexSession(sess, f.MtimeNs); err != nil {
			log.Warn("corpus: meta upsert failed", "path", f.Path, "error", err)
			continue
		}

		if !searchOK {
			if err := store.UpsertSessionSearch(sess.ID, f.Path, f.MtimeNs, f.SizeBytes, sess.Transcript()); err != nil {
				log.Warn("corpus: search upsert failed", "path", f.Path, "error", err)
				continue
			}
		}
		if !toolOK {
			refTS := sess.EffectiveTime()
			if refTS.IsZero() {
				refTS = time.Now()
			}
			if err := store.UpsertSessionToolIO(sess.ID, f.Path, f.MtimeNs, f.SizeBytes, refTS, sess.ToolIOText()); err != nil {
				log.Warn("corpus: tool io upsert failed", "path", f.Path, "error", err)
				continue
			}
		}
		refreshed++
	}
	return refreshed, nil
}

// EnforceToolIOBudget evicts old tool-IO rows until the bucket older than
// retentionDays fits under budgetMB. Rows newer than the cutoff are never
// touched.
func EnforceToolIOBudget(store *indexstore.Store, retentionDays, budgetMB int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	pruned, err := store.PruneOldToolIO(cutoff, int64(budgetMB)*1024*1024)
	if err != nil {
		return pruned, err
	}
	if pruned > 0 {
		log.Info("tool io corpus pruned", "sessions", pruned, "retention_days", retentionDays, "budget_mb", budgetMB)
	}
	return pruned, nil
}

// ReconcileDeleted removes index rows for files that no longer exist on disk
// and recomputes the rollups for every day that lost a contribution.
func ReconcileDeleted(store *indexstore.Store, source model.Source, existing []parser.FileInfo) (int, error) {
	indexed, err := store.IndexedPaths(source)
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		live[f.Path] = struct{}{}
	}
	var gone []string
	for _, p := range indexed {
		if _, ok := live[p]; !ok {
			gone = append(gone, p)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}

	days, err := store.DeleteSessionsForPaths(source, gone)
	if err != nil {
		return 0, err
	}
	for _, day := range days {
		if err := store.RecomputeRollups(day, source); err != nil {
			log.Warn("rollup recompute failed", "day", day, "source", string(source), "error", err)
		}
	}
	log.Info("reconciled deleted files", "source", string(source), "removed", len(gone), "days", len(days))
	return len(gone), nil
}
