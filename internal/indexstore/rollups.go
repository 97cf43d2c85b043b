package indexstore

import (
	"github.com/asheshgoplani/agent-vault/internal/model"
)

// RecomputeRollups deletes and regenerates the aggregate rows for one
// (day, source) pair from session_days. Rollups are never patched in place;
// full regeneration is what keeps them drift-free.
func (s *Store) RecomputeRollups(day string, source model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("begin recompute rollups", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		"DELETE FROM rollups_daily WHERE day = ? AND source = ?",
		day, string(source),
	); err != nil {
		return storeErr("clear daily rollup", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO rollups_daily (day, source, sessions, messages, commands)
		SELECT day, source, COUNT(*), SUM(messages), SUM(commands)
		FROM session_days
		WHERE day = ? AND source = ?
		GROUP BY day, source
	`, day, string(source)); err != nil {
		return storeErr("regenerate daily rollup", err)
	}

	// Time-of-day buckets span all days, so the whole source is regenerated.
	if _, err := tx.Exec(
		"DELETE FROM rollups_tod WHERE source = ?", string(source),
	); err != nil {
		return storeErr("clear tod rollup", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO rollups_tod (source, hour, sessions, messages)
		SELECT source, start_hour, COUNT(*), SUM(messages)
		FROM session_days
		WHERE source = ?
		GROUP BY source, start_hour
	`, string(source)); err != nil {
		return storeErr("regenerate tod rollup", err)
	}

	return storeErr("commit recompute rollups", tx.Commit())
}

// DailyRollups returns the derived per-day aggregates for one source, newest
// day first.
func (s *Store) DailyRollups(source model.Source, limit int) ([]DailyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 90
	}
	rows, err := s.db.Query(`
		SELECT day, source, sessions, messages, commands
		FROM rollups_daily WHERE source = ?
		ORDER BY day DESC LIMIT ?
	`, string(source), limit)
	if err != nil {
		return nil, storeErr("daily rollups", err)
	}
	defer rows.Close()

	var result []DailyRollup
	for rows.Next() {
		var r DailyRollup
		var src string
		if err := rows.Scan(&r.Day, &src, &r.Sessions, &r.Messages, &r.Commands); err != nil {
			return nil, storeErr("daily rollups scan", err)
		}
		r.Source = model.Source(src)
		result = append(result, r)
	}
	return result, storeErr("daily rollups rows", rows.Err())
}

// TimeOfDayRollups returns the derived per-hour aggregates for one source.
func (s *Store) TimeOfDayRollups(source model.Source) ([]TimeOfDayRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT source, hour, sessions, messages
		FROM rollups_tod WHERE source = ?
		ORDER BY hour
	`, string(source))
	if err != nil {
		return nil, storeErr("tod rollups", err)
	}
	defer rows.Close()

	var result []TimeOfDayRollup
	for rows.Next() {
		var r TimeOfDayRollup
		var src string
		if err := rows.Scan(&src, &r.Hour, &r.Sessions, &r.Messages); err != nil {
			return nil, storeErr("tod rollups scan", err)
		}
		r.Source = model.Source(src)
		result = append(result, r)
	}
	return result, storeErr("tod rollups rows", rows.Err())
}
