package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"
)

// UserSummary is the minimal public view of a user attached to list results.
type UserSummary struct {
	ID          int
	DisplayName string
}

// Loaders batches per-user lookups so a list endpoint issues one query for
// the whole page instead of one per row. Create per call; the loader cache
// must not outlive a request.
type Loaders struct {
	Summaries *dataloader.Loader[int, *UserSummary]
}

func newLoaders(db *sql.DB) *Loaders {
	return &Loaders{
		Summaries: dataloader.NewBatchedLoader(
			summaryBatchFn(db),
			dataloader.WithWait[int, *UserSummary](4*time.Millisecond),
		),
	}
}

func summaryBatchFn(db *sql.DB) dataloader.BatchFunc[int, *UserSummary] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[*UserSummary] {
		results := make([]*dataloader.Result[*UserSummary], len(keys))
		for i := range results {
			results[i] = &dataloader.Result[*UserSummary]{}
		}
		if len(keys) == 0 {
			return results
		}

		ids := make([]int64, len(keys))
		index := make(map[int]int, len(keys))
		for i, key := range keys {
			ids[i] = int64(key)
			index[key] = i
		}

		rows, err := db.QueryContext(ctx, `
			SELECT u.id, COALESCE(p.display_name, 'User ' || u.id::text)
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			WHERE u.id = ANY($1)
		`, pq.Array(ids))
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		defer rows.Close()

		for rows.Next() {
			var s UserSummary
			if err := rows.Scan(&s.ID, &s.DisplayName); err != nil {
				continue
			}
			if i, ok := index[s.ID]; ok {
				results[i].Data = &s
			}
		}
		return results
	}
}
