package stats

import (
	"time"

	"github.com/livinlefevreloca/prewarm/internal/db"
)

// DatabaseWriter interface for database operations
type DatabaseWriter interface {
	WritePrefetchStats(periodID string, startTime, endTime time.Time, data *PrefetchStatsAccumulator) error
}

// StatsStore is the subset of db.DB the adapter writes through
type StatsStore interface {
	CreatePrefetchStats(stats *db.PrefetchStats) error
}

// DBAdapter adapts a StatsStore to implement DatabaseWriter
type DBAdapter struct {
	db StatsStore
}

// NewDBAdapter creates a new database adapter
func NewDBAdapter(store StatsStore) *DBAdapter {
	return &DBAdapter{db: store}
}

// WritePrefetchStats implements DatabaseWriter
func (a *DBAdapter) WritePrefetchStats(periodID string, startTime, endTime time.Time, data *PrefetchStatsAccumulator) error {
	return a.db.CreatePrefetchStats(ToRow(periodID, startTime, endTime, data))
}

// Helper functions to convert values to pointers
func intPtr(i int) *int {
	return &i
}

func float64Ptr(f float64) *float64 {
	return &f
}

// ToRow converts an accumulator into a prefetch_stats row. Aggregates are in
// milliseconds and stay nil when there were no samples.
func ToRow(periodID string, startTime, endTime time.Time, data *PrefetchStatsAccumulator) *db.PrefetchStats {
	row := &db.PrefetchStats{
		StatsPeriodID: periodID,
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		Scheduled:     data.Scheduled,
		Started:       data.Started,
		Committed:     data.Committed,
		Succeeded:     data.Succeeded,
		Failed:        data.Failed,
		Cancelled:     data.Cancelled,
	}

	if len(data.LoadDurations) > 0 {
		minLoad, maxLoad, avgLoad := calculateMinMaxAvgDuration(data.LoadDurations)
		row.MinLoadMs = intPtr(int(minLoad.Milliseconds()))
		row.MaxLoadMs = intPtr(int(maxLoad.Milliseconds()))
		row.AvgLoadMs = float64Ptr(float64(avgLoad.Microseconds()) / 1000)
	}

	if len(data.OpenLatencies) > 0 {
		_, maxOpen, avgOpen := calculateMinMaxAvgDuration(data.OpenLatencies)
		row.MaxOpenLatencyMs = intPtr(int(maxOpen.Milliseconds()))
		row.AvgOpenLatencyMs = float64Ptr(float64(avgOpen.Microseconds()) / 1000)
	}

	return row
}
