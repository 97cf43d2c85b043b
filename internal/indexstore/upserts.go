package indexstore

import (
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// UpsertFile records the scan cursor for one file. Idempotent.
func (s *Store) UpsertFile(row IndexedFileRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO files (path, source, mtime_ns, size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?)
	`, row.Path, string(row.Source), row.MtimeNs, row.SizeBytes, row.IndexedAt.Unix())
	return storeErr("upsert file", err)
}

// UpsertSessionMeta inserts or replaces one session's metadata row.
func (s *Store) UpsertSessionMeta(row SessionMetaRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertSessionMetaLocked(row)
}

func (s *Store) upsertSessionMetaLocked(row SessionMetaRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO session_meta (
			session_id, source, file_path, start_ts, end_ts,
			model, cwd, repo_name, title, messages, commands
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.SessionID, string(row.Source), row.FilePath,
		unixOrZero(row.StartTime), unixOrZero(row.EndTime),
		row.Model, row.CWD, row.RepoName, row.Title, row.Messages, row.Commands,
	)
	return storeErr("upsert session meta", err)
}

// UpsertSessionDay records one session's contribution to one day.
func (s *Store) UpsertSessionDay(row SessionDayRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO session_days (day, source, session_id, start_hour, messages, commands)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.Day, string(row.Source), row.SessionID, row.StartHour, row.Messages, row.Commands)
	return storeErr("upsert session day", err)
}

// IndexSession writes a parsed session's file cursor, metadata row and day
// contribution in one transaction. This is the upsert path the indexer uses
// after a lightweight parse.
func (s *Store) IndexSession(sess *model.Session, mtimeNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("begin index session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO files (path, source, mtime_ns, size_bytes, indexed_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.FilePath, string(sess.Source), mtimeNs, sess.FileSizeBytes, time.Now().Unix()); err != nil {
		return storeErr("index session: file", err)
	}

	meta := MetaRowFromSession(sess)
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO session_meta (
			session_id, source, file_path, start_ts, end_ts,
			model, cwd, repo_name, title, messages, commands
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.SessionID, string(meta.Source), meta.FilePath,
		unixOrZero(meta.StartTime), unixOrZero(meta.EndTime),
		meta.Model, meta.CWD, meta.RepoName, meta.Title, meta.Messages, meta.Commands,
	); err != nil {
		return storeErr("index session: meta", err)
	}

	if !sess.StartTime.IsZero() {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO session_days (day, source, session_id, start_hour, messages, commands)
			VALUES (?, ?, ?, ?, ?, ?)
		`, dayOf(sess.StartTime), string(sess.Source), sess.ID,
			sess.StartTime.UTC().Hour(), sess.EventCount, sess.LightweightCommands,
		); err != nil {
			return storeErr("index session: day", err)
		}
	}

	return storeErr("commit index session", tx.Commit())
}

// UpsertSessionSearch replaces one session's searchable transcript, stamped
// with the source file's mtime/size and the current format version so readers
// can tell whether the row is still valid without re-deriving it.
func (s *Store) UpsertSessionSearch(sessionID, filePath string, mtimeNs, sizeBytes int64, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(transcript) > TranscriptLimit {
		transcript = transcript[:TranscriptLimit]
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("begin upsert search", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO session_search (session_id, file_path, mtime_ns, size_bytes, format_version)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, filePath, mtimeNs, sizeBytes, SearchFormatVersion); err != nil {
		return storeErr("upsert search meta", err)
	}
	if _, err := tx.Exec(`DELETE FROM session_search_fts WHERE session_id = ?`, sessionID); err != nil {
		return storeErr("clear search fts", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO session_search_fts (session_id, transcript) VALUES (?, ?)
	`, sessionID, transcript); err != nil {
		return storeErr("insert search fts", err)
	}

	return storeErr("commit upsert search", tx.Commit())
}

// UpsertSessionToolIO replaces one session's tool input/output corpus. refTS
// drives age-based eviction in PruneOldToolIO.
func (s *Store) UpsertSessionToolIO(sessionID, filePath string, mtimeNs, sizeBytes int64, refTS time.Time, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("begin upsert tool io", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO session_tool_io (
			session_id, file_path, mtime_ns, size_bytes, format_version, ref_ts, content_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, filePath, mtimeNs, sizeBytes, ToolIOFormatVersion, refTS.Unix(), len(content)); err != nil {
		return storeErr("upsert tool io meta", err)
	}
	if _, err := tx.Exec(`DELETE FROM session_tool_io_fts WHERE session_id = ?`, sessionID); err != nil {
		return storeErr("clear tool io fts", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO session_tool_io_fts (session_id, content) VALUES (?, ?)
	`, sessionID, content); err != nil {
		return storeErr("insert tool io fts", err)
	}

	return storeErr("commit upsert tool io", tx.Commit())
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
