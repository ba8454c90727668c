package app

import (
	"context"

	"github.com/mholloway/tideline/pkg/cache"
)

type Cache interface {
	Load(feedKey string) (cache.Record, bool)
	Save(feedKey string, record cache.Record) error
	Delete(feedKey string) error
	Close()
}

type Fetcher interface {
	FetchNewest(ctx context.Context, feed, sinceID string, limit int) (Page, error)
	FetchOlderThan(ctx context.Context, feed, maxID string, limit int) (Page, error)
	FetchBetween(ctx context.Context, feed, newerThan, olderThan string, limit int) (Page, error)
}
