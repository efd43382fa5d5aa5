package db

import "time"

// CreatePrefetchStats inserts prefetch statistics for a period
func (db *DB) CreatePrefetchStats(stats *PrefetchStats) error {
	query := `
		INSERT INTO prefetch_stats (
			stats_period_id, start_time, end_time, scheduled, started, committed,
			succeeded, failed, cancelled, avg_load_ms, min_load_ms, max_load_ms,
			avg_open_latency_ms, max_open_latency_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		stats.StatsPeriodID,
		stats.StartTime,
		stats.EndTime,
		stats.Scheduled,
		stats.Started,
		stats.Committed,
		stats.Succeeded,
		stats.Failed,
		stats.Cancelled,
		stats.AvgLoadMs,
		stats.MinLoadMs,
		stats.MaxLoadMs,
		stats.AvgOpenLatencyMs,
		stats.MaxOpenLatencyMs,
	)

	return err
}

// GetPrefetchStats retrieves prefetch stats for periods overlapping a window
func (db *DB) GetPrefetchStats(startTime, endTime time.Time) ([]PrefetchStats, error) {
	query := `
		SELECT
			stats_period_id, start_time, end_time, scheduled, started, committed,
			succeeded, failed, cancelled, avg_load_ms, min_load_ms, max_load_ms,
			avg_open_latency_ms, max_open_latency_ms
		FROM prefetch_stats
		WHERE (start_time >= ? AND start_time < ?) OR (end_time > ? AND end_time <= ?)
		ORDER BY start_time
	`

	startTime, endTime = startTime.UTC(), endTime.UTC()
	rows, err := db.Query(query, startTime, endTime, startTime, endTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PrefetchStats
	for rows.Next() {
		var s PrefetchStats
		err := rows.Scan(
			&s.StatsPeriodID,
			&s.StartTime,
			&s.EndTime,
			&s.Scheduled,
			&s.Started,
			&s.Committed,
			&s.Succeeded,
			&s.Failed,
			&s.Cancelled,
			&s.AvgLoadMs,
			&s.MinLoadMs,
			&s.MaxLoadMs,
			&s.AvgOpenLatencyMs,
			&s.MaxOpenLatencyMs,
		)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if stats == nil {
		stats = []PrefetchStats{}
	}

	return stats, nil
}
