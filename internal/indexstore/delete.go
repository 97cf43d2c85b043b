package indexstore

import (
	"sort"
	"strings"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// DeleteSessionsForPaths removes every row referencing the given file paths
// across session_days, both full-text corpora, session_meta and files, in one
// transaction. It returns the distinct days that lost a contribution, so the
// caller knows which rollups to recompute.
func (s *Store) DeleteSessionsForPaths(source model.Source, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr("begin delete sessions", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]
	pathArgs := make([]any, len(paths))
	for i, p := range paths {
		pathArgs[i] = p
	}

	// Resolve the session ids first; everything else cascades from them.
	idRows, err := tx.Query(`
		SELECT session_id FROM session_meta
		WHERE source = ? AND file_path IN (`+placeholders+`)
	`, append([]any{string(source)}, pathArgs...)...)
	if err != nil {
		return nil, storeErr("delete: resolve ids", err)
	}
	var ids []string
	for idRows.Next() {
		var id string
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return nil, storeErr("delete: scan id", err)
		}
		ids = append(ids, id)
	}
	if err := idRows.Err(); err != nil {
		idRows.Close()
		return nil, storeErr("delete: id rows", err)
	}
	idRows.Close()

	daySet := make(map[string]struct{})
	if len(ids) > 0 {
		idPlaceholders := strings.Repeat("?,", len(ids))
		idPlaceholders = idPlaceholders[:len(idPlaceholders)-1]
		idArgs := make([]any, len(ids))
		for i, id := range ids {
			idArgs[i] = id
		}

		dayRows, err := tx.Query(`
			SELECT DISTINCT day FROM session_days WHERE session_id IN (`+idPlaceholders+`)
		`, idArgs...)
		if err != nil {
			return nil, storeErr("delete: resolve days", err)
		}
		for dayRows.Next() {
			var day string
			if err := dayRows.Scan(&day); err != nil {
				dayRows.Close()
				return nil, storeErr("delete: scan day", err)
			}
			daySet[day] = struct{}{}
		}
		if err := dayRows.Err(); err != nil {
			dayRows.Close()
			return nil, storeErr("delete: day rows", err)
		}
		dayRows.Close()

		for _, stmt := range []string{
			`DELETE FROM session_days WHERE session_id IN (` + idPlaceholders + `)`,
			`DELETE FROM session_search_fts WHERE session_id IN (` + idPlaceholders + `)`,
			`DELETE FROM session_search WHERE session_id IN (` + idPlaceholders + `)`,
			`DELETE FROM session_tool_io_fts WHERE session_id IN (` + idPlaceholders + `)`,
			`DELETE FROM session_tool_io WHERE session_id IN (` + idPlaceholders + `)`,
			`DELETE FROM session_meta WHERE session_id IN (` + idPlaceholders + `)`,
		} {
			if _, err := tx.Exec(stmt, idArgs...); err != nil {
				return nil, storeErr("delete: cascade", err)
			}
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM files WHERE source = ? AND path IN (`+placeholders+`)
	`, append([]any{string(source)}, pathArgs...)...); err != nil {
		return nil, storeErr("delete: files", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit delete sessions", err)
	}

	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

// pruneBatchSize bounds how many tool-IO rows one eviction pass removes, so a
// badly over-budget corpus is reclaimed in small transactions.
const pruneBatchSize = 64

// PruneOldToolIO enforces a byte budget on the tool input/output corpus older
// than cutoffTS. Rows are evicted oldest-ref_ts-first in batches until the
// old bucket fits under oldBytesCap. Rows newer than the cutoff are never
// touched.
func (s *Store) PruneOldToolIO(cutoffTS int64, oldBytesCap int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for {
		var oldBytes int64
		if err := s.db.QueryRow(`
			SELECT COALESCE(SUM(content_bytes), 0) FROM session_tool_io WHERE ref_ts < ?
		`, cutoffTS).Scan(&oldBytes); err != nil {
			return pruned, storeErr("prune: sum", err)
		}
		if oldBytes <= oldBytesCap {
			return pruned, nil
		}

		tx, err := s.db.Begin()
		if err != nil {
			return pruned, storeErr("begin prune", err)
		}

		rows, err := tx.Query(`
			SELECT session_id, content_bytes FROM session_tool_io
			WHERE ref_ts < ?
			ORDER BY ref_ts ASC, session_id ASC
			LIMIT ?
		`, cutoffTS, pruneBatchSize)
		if err != nil {
			_ = tx.Rollback()
			return pruned, storeErr("prune: select", err)
		}
		type victim struct {
			id    string
			bytes int64
		}
		var victims []victim
		for rows.Next() {
			var v victim
			if err := rows.Scan(&v.id, &v.bytes); err != nil {
				rows.Close()
				_ = tx.Rollback()
				return pruned, storeErr("prune: scan", err)
			}
			victims = append(victims, v)
		}
		rows.Close()
		if len(victims) == 0 {
			_ = tx.Rollback()
			return pruned, nil
		}

		deleted := 0
		for _, v := range victims {
			// Oldest first, and only as many as the budget requires.
			if oldBytes <= oldBytesCap {
				break
			}
			if _, err := tx.Exec(`DELETE FROM session_tool_io_fts WHERE session_id = ?`, v.id); err != nil {
				_ = tx.Rollback()
				return pruned, storeErr("prune: delete fts", err)
			}
			if _, err := tx.Exec(`DELETE FROM session_tool_io WHERE session_id = ?`, v.id); err != nil {
				_ = tx.Rollback()
				return pruned, storeErr("prune: delete", err)
			}
			oldBytes -= v.bytes
			deleted++
		}
		if err := tx.Commit(); err != nil {
			return pruned, storeErr("commit prune", err)
		}
		pruned += deleted
		if deleted == 0 {
			return pruned, nil
		}
	}
}

// PurgeSource wipes every row belonging to one source. Used to force a clean
// rebuild after detecting unstable identifiers for a source.
func (s *Store) PurgeSource(source model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("begin purge", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM session_search_fts WHERE session_id IN (SELECT session_id FROM session_meta WHERE source = ?)`,
		`DELETE FROM session_search WHERE session_id IN (SELECT session_id FROM session_meta WHERE source = ?)`,
		`DELETE FROM session_tool_io_fts WHERE session_id IN (SELECT session_id FROM session_meta WHERE source = ?)`,
		`DELETE FROM session_tool_io WHERE session_id IN (SELECT session_id FROM session_meta WHERE source = ?)`,
		`DELETE FROM session_days WHERE source = ?`,
		`DELETE FROM rollups_daily WHERE source = ?`,
		`DELETE FROM rollups_tod WHERE source = ?`,
		`DELETE FROM session_meta WHERE source = ?`,
		`DELETE FROM files WHERE source = ?`,
	} {
		if _, err := tx.Exec(stmt, string(source)); err != nil {
			return storeErr("purge", err)
		}
	}

	return storeErr("commit purge", tx.Commit())
}
