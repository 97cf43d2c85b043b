package model

import "time"

// ArchiveStatus is the per-archive sync state machine:
// none -> staging -> syncing -> final, with error reachable from any state
// and staging re-entered whenever a sync cycle sees fresh upstream activity.
type ArchiveStatus string

const (
	ArchiveNone    ArchiveStatus = "none"
	ArchiveStaging ArchiveStatus = "staging"
	ArchiveSyncing ArchiveStatus = "syncing"
	ArchiveFinal   ArchiveStatus = "final"
	ArchiveError   ArchiveStatus = "error"
)

// ArchiveInfo is the persisted record for one pinned session. It is created
// on pin, rewritten by every sync attempt, and removed only on unpin.
type ArchiveInfo struct {
	SessionID            string        `json:"session_id"`
	Source               Source        `json:"source"`
	UpstreamPath         string        `json:"upstream_path"`
	UpstreamIsDirectory  bool          `json:"upstream_is_directory"`
	PrimaryRelativePath  string        `json:"primary_relative_path"`
	PinnedAt             time.Time     `json:"pinned_at"`
	LastSyncAt           time.Time     `json:"last_sync_at,omitzero"`
	LastUpstreamChangeAt time.Time     `json:"last_upstream_change_at,omitzero"`
	LastUpstreamSeenAt   time.Time     `json:"last_upstream_seen_at,omitzero"`
	UpstreamMissing      bool          `json:"upstream_missing"`
	Status               ArchiveStatus `json:"status"`
	LastError            string        `json:"last_error,omitempty"`

	// Denormalized display metadata so the archive can be listed without
	// reparsing anything.
	StartTime           time.Time `json:"start_time,omitzero"`
	EndTime             time.Time `json:"end_time,omitzero"`
	Model               string    `json:"model,omitempty"`
	CWD                 string    `json:"cwd,omitempty"`
	Title               string    `json:"title,omitempty"`
	EstimatedEventCount int       `json:"estimated_event_count"`
	EstimatedCommands   int       `json:"estimated_commands"`
	ArchiveSizeBytes    int64     `json:"archive_size_bytes"`
}

// CaptureDisplayMeta copies the fields shown in archive listings from a
// session snapshot.
func (a *ArchiveInfo) CaptureDisplayMeta(s *Session) {
	a.StartTime = s.StartTime
	a.EndTime = s.EndTime
	a.Model = s.Model
	a.CWD = s.CWD
	a.Title = s.Title
	a.EstimatedEventCount = s.EventCount
	a.EstimatedCommands = s.LightweightCommands
}

// ToFallbackSession converts archive metadata into a lightweight session so
// archived-only entries (upstream deleted) still appear in listings.
func (a *ArchiveInfo) ToFallbackSession(archivedPrimary string) *Session {
	return &Session{
		ID:                  a.SessionID,
		Source:              a.Source,
		StartTime:           a.StartTime,
		EndTime:             a.EndTime,
		Model:               a.Model,
		FilePath:            archivedPrimary,
		FileSizeBytes:       a.ArchiveSizeBytes,
		EventCount:          a.EstimatedEventCount,
		CWD:                 a.CWD,
		Title:               a.Title,
		LightweightCommands: a.EstimatedCommands,
	}
}
