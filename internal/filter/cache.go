package filter

import (
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/agent-vault/internal/model"
)

// TranscriptCache holds rendered session transcripts. Each transcript is
// generated at most once: the first caller computes and stores it, later
// callers read the cached value.
type TranscriptCache struct {
	mu      sync.RWMutex
	entries map[string]string
	group   singleflight.Group
}

func NewTranscriptCache() *TranscriptCache {
	return &TranscriptCache{entries: make(map[string]string)}
}

// Lookup returns the cached transcript for a session id, if present.
func (c *TranscriptCache) Lookup(sessionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[sessionID]
	return t, ok
}

// Put stores a transcript, typically recovered from the index rather than
// rendered from events.
func (c *TranscriptCache) Put(sessionID, transcript string) {
	c.mu.Lock()
	c.entries[sessionID] = transcript
	c.mu.Unlock()
}

// GetOrGenerate returns the session's transcript, rendering it on first use.
// Concurrent callers for the same id share one render.
func (c *TranscriptCache) GetOrGenerate(s *model.Session) string {
	if t, ok := c.Lookup(s.ID); ok {
		return t
	}
	v, _, _ := c.group.Do(s.ID, func() (any, error) {
		if t, ok := c.Lookup(s.ID); ok {
			return t, nil
		}
		t := s.Transcript()
		c.Put(s.ID, t)
		return t, nil
	})
	return v.(string)
}

// Warm renders transcripts for a batch of sessions, yielding between entries
// so a bulk warm does not starve interactive callers.
func (c *TranscriptCache) Warm(sessions []*model.Session) {
	for _, s := range sessions {
		if s.IsLightweight() {
			continue
		}
		c.GetOrGenerate(s)
		runtime.Gosched()
	}
}

// Invalidate drops one session's transcript, forcing a re-render on next use.
func (c *TranscriptCache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Len reports how many transcripts are cached.
func (c *TranscriptCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
