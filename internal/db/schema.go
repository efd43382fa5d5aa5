package db

import "time"

// PrefetchRequest is a finished prefetch request
type PrefetchRequest struct {
	ID          string
	TriggerID   string
	Status      string // 'settled' or 'cancelled'
	DelayMs     int64
	ScheduledAt *time.Time
	StartedAt   *time.Time
	SettledAt   *time.Time
	CancelledAt *time.Time
	Committed   bool
	Outcome     string // 'success', 'failure' or 'none'
	Error       *string
	RecordedAt  time.Time
}

// PrefetchStats represents prefetch activity over one stats period
type PrefetchStats struct {
	StatsPeriodID    string
	StartTime        time.Time
	EndTime          time.Time
	Scheduled        int
	Started          int
	Committed        int
	Succeeded        int
	Failed           int
	Cancelled        int
	AvgLoadMs        *float64
	MinLoadMs        *int
	MaxLoadMs        *int
	AvgOpenLatencyMs *float64
	MaxOpenLatencyMs *int
}
