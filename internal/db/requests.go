package db

import (
	"database/sql"
	"fmt"
)

const requestColumns = `id, trigger_id, status, delay_ms, scheduled_at, started_at, settled_at,
		cancelled_at, committed, outcome, error, recorded_at`

// CreatePrefetchRequest records a finished request
func (db *DB) CreatePrefetchRequest(req *PrefetchRequest) error {
	query := `
		INSERT INTO prefetch_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		req.ID,
		req.TriggerID,
		req.Status,
		req.DelayMs,
		req.ScheduledAt,
		req.StartedAt,
		req.SettledAt,
		req.CancelledAt,
		req.Committed,
		req.Outcome,
		req.Error,
		req.RecordedAt,
	)
	if err != nil && IsDuplicate(err) {
		return fmt.Errorf("%w: prefetch request %s", ErrDuplicate, req.ID)
	}
	return err
}

// CreatePrefetchRequests records a batch of requests in one transaction
func (db *DB) CreatePrefetchRequests(reqs []*PrefetchRequest) error {
	return db.WithTransaction(func(tx *Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO prefetch_requests (` + requestColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, req := range reqs {
			_, err := stmt.Exec(
				req.ID,
				req.TriggerID,
				req.Status,
				req.DelayMs,
				req.ScheduledAt,
				req.StartedAt,
				req.SettledAt,
				req.CancelledAt,
				req.Committed,
				req.Outcome,
				req.Error,
				req.RecordedAt,
			)
			if err != nil {
				return fmt.Errorf("insert prefetch request %s: %w", req.ID, err)
			}
		}
		return nil
	})
}

// GetPrefetchRequest retrieves a request by ID
func (db *DB) GetPrefetchRequest(id string) (*PrefetchRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM prefetch_requests WHERE id = ?`

	req, err := scanRequest(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListPrefetchRequests returns the most recent requests, newest first. An
// empty triggerID matches every trigger; limit <= 0 means no limit.
func (db *DB) ListPrefetchRequests(triggerID string, limit int) ([]PrefetchRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM prefetch_requests
		WHERE (? = '' OR trigger_id = ?)
		ORDER BY seq DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.Query(query, triggerID, triggerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []PrefetchRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}

// CountPrefetchRequests returns the number of requests per outcome for a
// trigger, or for every trigger when triggerID is empty
func (db *DB) CountPrefetchRequests(triggerID string) (map[string]int, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM prefetch_requests
		WHERE (? = '' OR trigger_id = ?)
		GROUP BY outcome
	`

	rows, err := db.Query(query, triggerID, triggerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*PrefetchRequest, error) {
	req := &PrefetchRequest{}
	err := row.Scan(
		&req.ID,
		&req.TriggerID,
		&req.Status,
		&req.DelayMs,
		&req.ScheduledAt,
		&req.StartedAt,
		&req.SettledAt,
		&req.CancelledAt,
		&req.Committed,
		&req.Outcome,
		&req.Error,
		&req.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
