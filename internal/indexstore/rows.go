package indexstore

import (
	"time"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// IndexedFileRow is the per-file scan cursor: a file whose mtime and size
// match this row does not need re-parsing.
type IndexedFileRow struct {
	Path      string
	Source    model.Source
	MtimeNs   int64
	SizeBytes int64
	IndexedAt time.Time
}

// SessionMetaRow is the searchable per-session metadata projection.
type SessionMetaRow struct {
	SessionID string
	Source    model.Source
	FilePath  string
	StartTime time.Time
	EndTime   time.Time
	Model     string
	CWD       string
	RepoName  string
	Title     string
	Messages  int
	Commands  int
}

// SessionDayRow is one session's usage contribution to one day. Rollups are
// always recomputed from these rows, never patched incrementally.
type SessionDayRow struct {
	Day       string // "2006-01-02" in UTC
	Source    model.Source
	SessionID string
	StartHour int
	Messages  int
	Commands  int
}

// DailyRollup is a derived per-day per-source aggregate.
type DailyRollup struct {
	Day      string
	Source   model.Source
	Sessions int
	Messages int
	Commands int
}

// TimeOfDayRollup is a derived per-hour per-source aggregate.
type TimeOfDayRollup struct {
	Source   model.Source
	Hour     int
	Sessions int
	Messages int
}

// MetaRowFromSession projects a parsed session into its metadata row.
func MetaRowFromSession(s *model.Session) SessionMetaRow {
	return SessionMetaRow{
		SessionID: s.ID,
		Source:    s.Source,
		FilePath:  s.FilePath,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Model:     s.Model,
		CWD:       s.CWD,
		RepoName:  s.RepoName,
		Title:     s.Title,
		Messages:  s.EventCount,
		Commands:  s.LightweightCommands,
	}
}

// ToSession reconstructs a lightweight session from its metadata row.
func (r SessionMetaRow) ToSession(sizeBytes int64) *model.Session {
	return &model.Session{
		ID:                  r.SessionID,
		Source:              r.Source,
		StartTime:           r.StartTime,
		EndTime:             r.EndTime,
		Model:               r.Model,
		FilePath:            r.FilePath,
		FileSizeBytes:       sizeBytes,
		EventCount:          r.Messages,
		CWD:                 r.CWD,
		RepoName:            r.RepoName,
		Title:               r.Title,
		LightweightCommands: r.Commands,
	}
}
