package dispatch

import (
	"context"
	"fmt"
	"sort"
)

// ClassStats summarizes items of one resource class.
type ClassStats struct {
	ResourceClass string `json:"resource_class"`
	Ready         int    `json:"ready"`
	Delayed       int    `json:"delayed"`
	Leased        int    `json:"leased"`
	Redelivered   int    `json:"redelivered"`
}

// Total returns the number of items in the class.
func (s ClassStats) Total() int {
	return s.Ready + s.Delayed + s.Leased
}

// Stats returns per-class counts ordered by class name.
func (q *Queue) Stats(ctx context.Context) ([]ClassStats, error) {
	now := q.now().UnixMilli()
	rows, err := q.store.QueryContext(ctx,
		`SELECT resource_class,
            SUM(CASE WHEN lease_until > ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN lease_until <= ? AND available_at > ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN lease_until <= ? AND available_at <= ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN deliveries > 1 THEN 1 ELSE 0 END)
         FROM dispatch_items GROUP BY resource_class`,
		now, now, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("dispatch stats: %w", err)
	}
	defer rows.Close()

	var stats []ClassStats
	for rows.Next() {
		var entry ClassStats
		var leased, delayed, ready, redelivered int64
		if err := rows.Scan(&entry.ResourceClass, &leased, &delayed, &ready, &redelivered); err != nil {
			return nil, fmt.Errorf("scan dispatch stats: %w", err)
		}
		entry.Leased, entry.Delayed, entry.Ready, entry.Redelivered = int(leased), int(delayed), int(ready), int(redelivered)
		stats = append(stats, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ResourceClass < stats[j].ResourceClass })
	return stats, nil
}
