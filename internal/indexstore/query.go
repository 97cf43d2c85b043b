package indexstore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// Prefilter narrows session candidates by metadata before an expensive
// full-text pass. Zero values mean "no constraint".
type Prefilter struct {
	Sources      []model.Source
	Model        string
	RepoContains string
	PathContains string
	From         time.Time
	To           time.Time
}

// whereClause renders the prefilter against an aliased session_meta table.
func (p Prefilter) whereClause(alias string) (string, []any) {
	var conds []string
	var args []any

	if len(p.Sources) > 0 {
		placeholders := make([]string, len(p.Sources))
		for i, src := range p.Sources {
			placeholders[i] = "?"
			args = append(args, string(src))
		}
		conds = append(conds, alias+".source IN ("+strings.Join(placeholders, ",")+")")
	}
	if p.Model != "" {
		conds = append(conds, alias+".model = ?")
		args = append(args, p.Model)
	}
	if p.RepoContains != "" {
		conds = append(conds, "instr(lower("+alias+".repo_name), lower(?)) > 0")
		args = append(args, p.RepoContains)
	}
	if p.PathContains != "" {
		conds = append(conds, "(instr(lower("+alias+".file_path), lower(?)) > 0 OR instr(lower("+alias+".cwd), lower(?)) > 0)")
		args = append(args, p.PathContains, p.PathContains)
	}
	if !p.From.IsZero() {
		// End time when present, else start time.
		conds = append(conds, "(CASE WHEN "+alias+".end_ts > 0 THEN "+alias+".end_ts ELSE "+alias+".start_ts END) >= ?")
		args = append(args, p.From.Unix())
	}
	if !p.To.IsZero() {
		conds = append(conds, "(CASE WHEN "+alias+".end_ts > 0 THEN "+alias+".end_ts ELSE "+alias+".start_ts END) <= ?")
		args = append(args, p.To.Unix())
	}

	if len(conds) == 0 {
		return "1=1", nil
	}
	return strings.Join(conds, " AND "), args
}

// PrefilterSessionIDs returns session ids matching the metadata constraints.
func (s *Store) PrefilterSessionIDs(p Prefilter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := p.whereClause("m")
	rows, err := s.db.Query(`
		SELECT m.session_id FROM session_meta m WHERE `+where+`
		ORDER BY m.start_ts DESC
	`, args...)
	if err != nil {
		return nil, storeErr("prefilter", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("prefilter scan", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("prefilter rows", rows.Err())
}

// SearchSessionIDsFTS runs a full-text query over the transcript corpus,
// joined with the metadata prefilter, ranked by bm25 relevance and bounded by
// limit.
func (s *Store) SearchSessionIDsFTS(query string, p Prefilter, limit int) ([]string, error) {
	return s.searchFTS("session_search_fts", query, p, limit)
}

// SearchSessionIDsToolIOFTS is the same query against the tool input/output
// corpus.
func (s *Store) SearchSessionIDsToolIOFTS(query string, p Prefilter, limit int) ([]string, error) {
	return s.searchFTS("session_tool_io_fts", query, p, limit)
}

func (s *Store) searchFTS(table, query string, p Prefilter, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	where, args := p.whereClause("m")
	// One corpus row per session, so bm25 ranks directly without aggregation.
	sqlText := `
		SELECT m.session_id
		FROM session_meta m
		JOIN (
			SELECT session_id, bm25(` + table + `) AS score
			FROM ` + table + `
			WHERE ` + table + ` MATCH ?
		) ranked ON ranked.session_id = m.session_id
		WHERE ` + where + `
		ORDER BY ranked.score, m.start_ts DESC
		LIMIT ?
	`
	allArgs := append([]any{ftsQuery}, args...)
	allArgs = append(allArgs, limit)

	rows, err := s.db.Query(sqlText, allArgs...)
	if err != nil {
		return nil, storeErr("fts search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("fts scan", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("fts rows", rows.Err())
}

// buildFTSQuery turns free text into a conjunctive prefix query, stripping
// characters FTS5 would treat as syntax.
func buildFTSQuery(raw string) string {
	parts := strings.Fields(strings.TrimSpace(raw))
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `"`, "")
		if p == "" {
			continue
		}
		quoted = append(quoted, `"`+p+`"*`)
	}
	return strings.Join(quoted, " AND ")
}

// SearchReadyPaths returns exactly the file paths whose files row, session
// metadata and transcript corpus row are mutually consistent: same mtime and
// size, current format version. Files in this set never need re-parsing for
// search purposes.
func (s *Store) SearchReadyPaths(source model.Source) (map[string]struct{}, error) {
	return s.readyPaths(source, "session_search", SearchFormatVersion)
}

// ToolIOReadyPaths is SearchReadyPaths for the tool input/output corpus.
func (s *Store) ToolIOReadyPaths(source model.Source) (map[string]struct{}, error) {
	return s.readyPaths(source, "session_tool_io", ToolIOFormatVersion)
}

func (s *Store) readyPaths(source model.Source, corpus string, version int) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT f.path
		FROM files f
		JOIN session_meta m ON m.file_path = f.path
		JOIN `+corpus+` c ON c.session_id = m.session_id
		WHERE f.source = ?
		  AND c.mtime_ns = f.mtime_ns
		  AND c.size_bytes = f.size_bytes
		  AND c.format_version = ?
	`, string(source), version)
	if err != nil {
		return nil, storeErr("ready paths", err)
	}
	defer rows.Close()

	ready := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, storeErr("ready paths scan", err)
		}
		ready[path] = struct{}{}
	}
	return ready, storeErr("ready paths rows", rows.Err())
}

// IndexedPaths returns every file path the index currently tracks for one
// source. The indexer diffs this against a fresh discovery to find deletions.
func (s *Store) IndexedPaths(source model.Source) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT path FROM files WHERE source = ?`, string(source))
	if err != nil {
		return nil, storeErr("indexed paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr("indexed paths scan", err)
		}
		paths = append(paths, p)
	}
	return paths, storeErr("indexed paths rows", rows.Err())
}

// HydrateSessions loads lightweight sessions for the given sources straight
// from the index, newest file first, bypassing the filesystem entirely.
func (s *Store) HydrateSessions(sources []model.Source) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := Prefilter{Sources: sources}.whereClause("m")
	rows, err := s.db.Query(`
		SELECT m.session_id, m.source, m.file_path, m.start_ts, m.end_ts,
		       m.model, m.cwd, m.repo_name, m.title, m.messages, m.commands,
		       COALESCE(f.size_bytes, 0), COALESCE(f.mtime_ns, 0)
		FROM session_meta m
		LEFT JOIN files f ON f.path = m.file_path
		WHERE `+where+`
		ORDER BY f.mtime_ns DESC, m.session_id
	`, args...)
	if err != nil {
		return nil, storeErr("hydrate", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		var r SessionMetaRow
		var source string
		var startTS, endTS, sizeBytes, mtimeNs int64
		if err := rows.Scan(
			&r.SessionID, &source, &r.FilePath, &startTS, &endTS,
			&r.Model, &r.CWD, &r.RepoName, &r.Title, &r.Messages, &r.Commands,
			&sizeBytes, &mtimeNs,
		); err != nil {
			return nil, storeErr("hydrate scan", err)
		}
		r.Source = model.Source(source)
		r.StartTime = timeOrZero(startTS)
		r.EndTime = timeOrZero(endTS)
		sessions = append(sessions, r.ToSession(sizeBytes))
	}
	return sessions, storeErr("hydrate rows", rows.Err())
}

// SessionMetaByID looks up one session's metadata row. Used by archive
// backfill to resolve a pinned session's upstream location.
func (s *Store) SessionMetaByID(sessionID string) (*SessionMetaRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r SessionMetaRow
	var source string
	var startTS, endTS int64
	err := s.db.QueryRow(`
		SELECT session_id, source, file_path, start_ts, end_ts,
		       model, cwd, repo_name, title, messages, commands
		FROM session_meta WHERE session_id = ?
	`, sessionID).Scan(
		&r.SessionID, &source, &r.FilePath, &startTS, &endTS,
		&r.Model, &r.CWD, &r.RepoName, &r.Title, &r.Messages, &r.Commands,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("session meta by id", err)
	}
	r.Source = model.Source(source)
	r.StartTime = timeOrZero(startTS)
	r.EndTime = timeOrZero(endTS)
	return &r, nil
}
