package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mholloway/tideline/pkg/config"
	"github.com/mholloway/tideline/pkg/timeline"
	"github.com/mholloway/tideline/pkg/util"
)

// Page is one slice of a paginated timeline. Full means the provider
// returned everything asked for, so more entries may exist beyond the
// page's range.
type Page struct {
	Entries []timeline.Entry
	Full    bool
}

// StatusError is a non-2xx response from the instance. It reaches the
// caller as a retryable condition; fetches are never retried silently.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from instance", e.Code)
}

// PageFetcher is a stateless client for the paginated timeline
// endpoint. It holds no feed state; cursors come from the caller.
type PageFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewPageFetcher(cfg config.Config) *PageFetcher {
	return &PageFetcher{
		baseURL: cfg.APIBaseURL,
		token:   cfg.AccessToken,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchNewest returns the newest page of the feed. A non-empty sinceID
// restricts the page to entries newer than that cursor, which is how
// the head-contiguity check is performed.
func (f *PageFetcher) FetchNewest(ctx context.Context, feed, sinceID string, limit int) (Page, error) {
	query := url.Values{}
	if sinceID != "" {
		query.Set("since_id", sinceID)
	}
	return f.fetch(ctx, feed, query, limit)
}

// FetchOlderThan returns the page immediately older than maxID, for
// "load more" at the tail.
func (f *PageFetcher) FetchOlderThan(ctx context.Context, feed, maxID string, limit int) (Page, error) {
	query := url.Values{}
	query.Set("max_id", maxID)
	return f.fetch(ctx, feed, query, limit)
}

// FetchBetween returns the newest entries strictly between the two
// cursors, for gap fills. Pagination runs newest-first, so a Full page
// means the bottom of the range was not reached.
func (f *PageFetcher) FetchBetween(ctx context.Context, feed, newerThan, olderThan string, limit int) (Page, error) {
	query := url.Values{}
	if olderThan != "" {
		query.Set("max_id", olderThan)
	}
	if newerThan != "" {
		query.Set("since_id", newerThan)
	}
	return f.fetch(ctx, feed, query, limit)
}

func (f *PageFetcher) fetch(ctx context.Context, feed string, query url.Values, limit int) (Page, error) {
	query.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/api/v1/timelines/%s?%s", f.baseURL, feed, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, util.WrapErr("failed to create request", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, util.WrapErr("failed to fetch timeline page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, StatusError{Code: resp.StatusCode}
	}

	var statuses []apiStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return Page{}, util.WrapErr("failed to decode timeline page", err)
	}

	entries := make([]timeline.Entry, 0, len(statuses))
	for _, status := range statuses {
		if status.ID == "" {
			continue
		}
		entries = append(entries, status.entry())
	}

	return Page{
		Entries: entries,
		Full:    len(statuses) >= limit,
	}, nil
}
