package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mholloway/tideline/pkg/cache"
	"github.com/mholloway/tideline/pkg/timeline"
	"github.com/mholloway/tideline/pkg/util"
)

// ErrGapGone is returned when a gap fill targets a marker that has
// already been filled or evicted.
var ErrGapGone = errors.New("gap no longer exists")

// Session reconciles one feed view: it decides, for each trigger
// (cold start, refresh, load more, gap tap, stream event), which
// datasource operation to invoke, and schedules a coalesced cache
// save after every mutation. Fetch failures are returned to the
// caller, since they are user-initiated and never retried silently;
// stream and cache failures are absorbed below this layer.
type Session struct {
	feed    string
	feedKey string
	limit   int

	ds      *timeline.Datasource
	fetcher Fetcher
	store   Cache
	writer  *cache.Writer
}

func NewSession(a App, feed string) *Session {
	return &Session{
		feed: feed,
		// Account identity is part of the key so that records from
		// different logins or filter sets never collide.
		feedKey: fmt.Sprintf("%s/%s", a.Config.Account, feed),
		limit:   a.Config.PageLimit,
		ds:      timeline.NewDatasource(a.Config.FeedCap),
		fetcher: a.Fetcher,
		store:   a.Store,
		writer:  a.Writer,
	}
}

func (s *Session) Feed() string {
	return s.feed
}

// ColdStart seeds the view from the cache for a near-instant first
// paint, then reconciles the cached head against the network's current
// head in the same way a user refresh would.
func (s *Session) ColdStart(ctx context.Context) error {
	if record, ok := s.store.Load(s.feedKey); ok {
		s.ds.Seed(record.Entries)
		s.ds.SetResumeMarker(timeline.SortKey(record.ResumeMarker))
		slog.Debug("seeded feed from cache", "feed", s.feed, "entries", len(record.Entries))
	}
	return s.Refresh(ctx)
}

// Refresh fetches the newest page above the current head. A full page
// means the provider may hold more between the page's oldest entry and
// our head, so a gap is inserted; a short page proves contiguity.
// Ambiguity always favors the gap: over-fetching beats silently
// dropping content.
func (s *Session) Refresh(ctx context.Context) error {
	sinceID := ""
	if head, ok := s.ds.Head(); ok {
		sinceID = head.ID
	}

	page, err := s.fetcher.FetchNewest(ctx, s.feed, sinceID, s.limit)
	if err != nil {
		// A cancelled fetch (view torn down mid-flight) must not
		// mutate the datasource; neither does a failed one.
		return util.WrapErr("failed to fetch newest page", err)
	}
	if len(page.Entries) == 0 {
		return nil // head is current
	}

	contiguous := sinceID == "" || !page.Full
	s.ds.PrependPage(page.Entries, contiguous)
	s.persist()
	return nil
}

// LoadMore extends the tail by one page. On an empty view it behaves
// like a refresh.
func (s *Session) LoadMore(ctx context.Context) error {
	tail, ok := s.ds.Tail()
	if !ok {
		return s.Refresh(ctx)
	}
	if s.ds.TailComplete() {
		return nil // provider confirmed nothing older exists
	}

	page, err := s.fetcher.FetchOlderThan(ctx, s.feed, tail.ID, s.limit)
	if err != nil {
		return util.WrapErr("failed to fetch older page", err)
	}

	s.ds.AppendPage(page.Entries, page.Full)
	s.persist()
	return nil
}

// FillGap runs the targeted fetch for one gap marker. The fetch pages
// newest-first inside the gap's cursor range; a full page means the
// range was not exhausted and the gap survives, shrunk beneath the
// fetched entries.
func (s *Session) FillGap(ctx context.Context, gapID string) error {
	newer, older, ok := s.ds.GapBounds(gapID)
	if !ok {
		return ErrGapGone
	}

	page, err := s.fetcher.FetchBetween(ctx, s.feed, string(older), string(newer), s.limit)
	if err != nil {
		return util.WrapErr("failed to fetch gap range", err)
	}

	s.ds.FillGap(gapID, page.Entries, !page.Full)
	s.persist()
	return nil
}

// Handle routes one stream message. Events are the cheap path: applied
// directly, no fetch. A resubscription is treated exactly like a user
// refresh, because the stream guarantees no replay of the outage
// window.
func (s *Session) Handle(ctx context.Context, message StreamMessage) {
	if message.Feed != s.feed {
		return
	}
	switch message.Kind {
	case MessageEvent:
		s.ds.ApplyStreamEvent(message.Event)
		s.persist()
	case MessageResubscribed:
		if err := s.Refresh(ctx); err != nil {
			slog.Warn(util.WrapErr("failed to refresh after reconnect", err).Error(), "feed", s.feed)
		}
	}
}

// Pump consumes stream messages until the channel closes or ctx ends.
func (s *Session) Pump(ctx context.Context, messages <-chan StreamMessage) {
	for {
		select {
		case message, ok := <-messages:
			if !ok {
				return
			}
			s.Handle(ctx, message)
		case <-ctx.Done():
			return
		}
	}
}

// MarkSeen advances the resume marker to the current head, invoked by
// the rendering layer when the user scrolls to the top.
func (s *Session) MarkSeen() {
	s.ds.MarkSeenThroughHead()
	s.persist()
}

func (s *Session) Snapshot() []timeline.Entry {
	return s.ds.Snapshot()
}

func (s *Session) UnreadCount() int {
	return s.ds.UnreadCount()
}

func (s *Session) ResumeMarker() timeline.SortKey {
	return s.ds.ResumeMarker()
}

func (s *Session) Changed() <-chan struct{} {
	return s.ds.Changed()
}

// Close releases the view, leaving the cache record for the next open.
func (s *Session) Close() {
	s.ds.Close()
}

// Discard releases the view and deletes its cache record; the logout
// and filter-change path.
func (s *Session) Discard() {
	s.ds.Close()
	if err := s.store.Delete(s.feedKey); err != nil {
		slog.Warn(util.WrapErr("failed to delete cached feed", err).Error(), "feed_key", s.feedKey)
	}
}

// persist schedules an asynchronous, coalesced save of the current
// snapshot. Saves never block the mutating path; a superseded save is
// simply skipped.
func (s *Session) persist() {
	s.writer.Enqueue(s.feedKey, cache.Record{
		FeedKey:      s.feedKey,
		Entries:      s.ds.Snapshot(),
		ResumeMarker: string(s.ds.ResumeMarker()),
		SavedAt:      time.Now().Unix(),
		Schema:       cache.Schema,
	})
}
