package timeline

import (
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

const DefaultCap = 800

// Datasource is the single owner of one feed's ordered entry list.
// All mutation flows through a mailbox goroutine, so concurrent
// producers (stream events, page fetches, gap fills, user actions)
// are applied one at a time in arrival order. Invariants held between
// operations:
//
//   - entries are in strictly descending SortKey order (newest first)
//   - no two non-gap entries share an id
//   - gaps are interior only, and never adjacent to another gap
type Datasource struct {
	ops     chan func(*feedState)
	changed chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

type feedState struct {
	entries      []Entry
	cap          int
	marker       SortKey
	tailComplete bool
	dirty        bool
}

func NewDatasource(capacity int) *Datasource {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	d := &Datasource{
		ops:     make(chan func(*feedState)),
		changed: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run(capacity)
	return d
}

func (d *Datasource) run(capacity int) {
	defer close(d.done)
	state := &feedState{cap: capacity}
	for {
		select {
		case op := <-d.ops:
			op(state)
		case <-d.quit:
			return
		}
	}
}

// do runs op on the mailbox goroutine and waits for it to complete.
// The change signal fires before do returns, so a caller observing a
// mutation's completion also observes its notification. After Close,
// ops become no-ops rather than blocking forever.
func (d *Datasource) do(op func(*feedState)) {
	ack := make(chan struct{})
	select {
	case d.ops <- func(s *feedState) {
		s.dirty = false
		op(s)
		if s.dirty {
			d.notify()
		}
		close(ack)
	}:
		<-ack
	case <-d.quit:
	}
}

func (d *Datasource) notify() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// Changed delivers a coalesced signal after every successful mutation.
// It carries no payload; consumers re-read via Snapshot.
func (d *Datasource) Changed() <-chan struct{} {
	return d.changed
}

// Close stops the mailbox. Operations issued after Close are no-ops.
func (d *Datasource) Close() {
	select {
	case <-d.quit:
		return
	default:
	}
	close(d.quit)
	<-d.done
}

// Seed replaces the list wholesale from a cached snapshot. Input is
// re-sorted and normalized defensively; the cache is not trusted to
// have preserved the invariants across schema drift.
func (d *Datasource) Seed(entries []Entry) {
	d.do(func(s *feedState) {
		s.entries = append([]Entry(nil), entries...)
		sortEntries(s.entries)
		s.entries = normalize(s.entries)
		s.tailComplete = false
		s.applyCap()
		s.dirty = true
	})
}

// PrependPage inserts a freshly-fetched newer page above the current
// head. When contiguousWithHead is false a single gap marker is placed
// between the page and the old head. Ids present in both the page and
// retained state are resolved in the page's favor: a fetched page is
// unconditionally fresher than what it overlaps.
func (d *Datasource) PrependPage(entries []Entry, contiguousWithHead bool) {
	d.do(func(s *feedState) {
		page := realEntries(entries)
		if len(page) == 0 {
			return
		}
		sortEntries(page)

		incoming := mapset.NewThreadUnsafeSet[string]()
		for _, e := range page {
			incoming.Add(e.ID)
		}
		retained := s.entries[:0:0]
		for _, e := range s.entries {
			if !e.IsGap() && incoming.Contains(e.ID) {
				continue
			}
			retained = append(retained, e)
		}

		merged := make([]Entry, 0, len(page)+len(retained)+1)
		merged = append(merged, page...)
		if !contiguousWithHead && len(retained) > 0 {
			merged = append(merged, NewGap(retained[0].SortKey))
		}
		merged = append(merged, retained...)

		s.entries = normalize(merged)
		s.applyCap()
		s.dirty = true
	})
}

// AppendPage extends the tail for "load more". hasMore false marks the
// tail definitively complete; either way no trailing gap is created,
// since eviction and short pages are both recoverable by re-fetching.
func (d *Datasource) AppendPage(entries []Entry, hasMore bool) {
	d.do(func(s *feedState) {
		page := realEntries(entries)
		sortEntries(page)

		known := mapset.NewThreadUnsafeSet[string]()
		for _, e := range s.entries {
			if !e.IsGap() {
				known.Add(e.ID)
			}
		}

		appended := false
		for _, e := range page {
			if known.Contains(e.ID) {
				continue
			}
			s.entries = append(s.entries, e)
			known.Add(e.ID)
			appended = true
		}

		s.tailComplete = !hasMore
		if appended {
			// A late out-of-order insert can leave entries below the
			// old tail; the stable re-sort folds the appended page in
			// without disturbing dedup order.
			sortEntries(s.entries)
			s.entries = normalize(s.entries)
			s.applyCap()
			s.dirty = true
		}
	})
}

// ApplyStreamEvent applies one typed real-time event.
func (d *Datasource) ApplyStreamEvent(event StreamEvent) {
	d.do(func(s *feedState) {
		switch event.Kind {
		case KindInsert:
			s.applyInsert(event.Entry)
		case KindDelete:
			s.applyDelete(event.ID)
		case KindEdit:
			s.applyEdit(event.ID, event.Payload, event.Version)
		default:
			slog.Warn("dropping stream event of unknown kind", "kind", int(event.Kind))
		}
	})
}

func (s *feedState) applyInsert(entry Entry) {
	if entry.IsGap() {
		return
	}
	// Duplicate delivery, or the echo of an optimistic local insert.
	if s.indexOf(entry.ID) >= 0 {
		return
	}
	s.entries = append([]Entry{entry}, s.entries...)
	sortEntries(s.entries)
	s.entries = normalize(s.entries)
	s.applyCap()
	s.dirty = true
}

func (s *feedState) applyDelete(id string) {
	idx := s.indexOf(id)
	if idx < 0 {
		return
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	// A delete never opens a hole that needs re-fetching; the list is
	// still internally consistent, just shorter. Normalize only to
	// collapse gaps the removed entry used to separate.
	s.entries = normalize(s.entries)
	s.dirty = true
}

func (s *feedState) applyEdit(id string, payload *Post, version int64) {
	idx := s.indexOf(id)
	if idx < 0 || s.entries[idx].IsGap() || payload == nil {
		return
	}
	if version <= s.entries[idx].Version {
		return // out-of-order delivery, stored entry is newer
	}
	s.entries[idx].Payload = payload
	s.entries[idx].Version = version
	s.dirty = true
}

// FillGap splices fetched entries into the gap identified by gapID.
// When complete is false the provider paginated short, so a shrunk gap
// is kept below the spliced entries to cover the remaining sub-range.
func (d *Datasource) FillGap(gapID string, entries []Entry, complete bool) {
	d.do(func(s *feedState) {
		idx := s.indexOf(gapID)
		if idx < 0 || !s.entries[idx].IsGap() {
			return // gap already filled or removed
		}

		var newer, older SortKey
		for i := idx - 1; i >= 0; i-- {
			if !s.entries[i].IsGap() {
				newer = s.entries[i].SortKey
				break
			}
		}
		for i := idx + 1; i < len(s.entries); i++ {
			if !s.entries[i].IsGap() {
				older = s.entries[i].SortKey
				break
			}
		}

		known := mapset.NewThreadUnsafeSet[string]()
		for i, e := range s.entries {
			if i != idx && !e.IsGap() {
				known.Add(e.ID)
			}
		}
		// Keep only entries strictly inside the gap's range; anything
		// else is either a duplicate of a neighbor or a provider bug.
		fetched := make([]Entry, 0, len(entries))
		for _, e := range realEntries(entries) {
			if known.Contains(e.ID) {
				continue
			}
			if newer != "" && CompareKeys(e.SortKey, newer) >= 0 {
				continue
			}
			if older != "" && CompareKeys(e.SortKey, older) <= 0 {
				continue
			}
			fetched = append(fetched, e)
			known.Add(e.ID)
		}
		sortEntries(fetched)

		if len(fetched) == 0 && !complete {
			return // nothing new and the hole remains; keep the gap
		}

		splice := fetched
		if !complete {
			// The surviving gap covers the range down to the older
			// neighbor; it carries that neighbor's key so re-sorts
			// keep it in place.
			key := older
			if key == "" {
				key = s.entries[idx].SortKey
			}
			splice = append(splice, NewGap(key))
		}

		merged := make([]Entry, 0, len(s.entries)+len(splice)-1)
		merged = append(merged, s.entries[:idx]...)
		merged = append(merged, splice...)
		merged = append(merged, s.entries[idx+1:]...)

		s.entries = normalize(merged)
		s.applyCap()
		s.dirty = true
	})
}

// GapBounds reports the sort keys of the real entries surrounding the
// given gap, for use as targeted-fetch cursors. ok is false when the
// gap no longer exists.
func (d *Datasource) GapBounds(gapID string) (newer, older SortKey, ok bool) {
	d.do(func(s *feedState) {
		idx := s.indexOf(gapID)
		if idx < 0 || !s.entries[idx].IsGap() {
			return
		}
		for i := idx - 1; i >= 0; i-- {
			if !s.entries[i].IsGap() {
				newer = s.entries[i].SortKey
				break
			}
		}
		for i := idx + 1; i < len(s.entries); i++ {
			if !s.entries[i].IsGap() {
				older = s.entries[i].SortKey
				break
			}
		}
		ok = true
	})
	return
}

// Snapshot returns an immutable copy for rendering. Payload pointers
// are shared but payloads are never mutated in place; edits swap the
// pointer, so a snapshot is stable once taken.
func (d *Datasource) Snapshot() []Entry {
	var snap []Entry
	d.do(func(s *feedState) {
		snap = append([]Entry(nil), s.entries...)
	})
	return snap
}

// Head returns the newest real entry, if any.
func (d *Datasource) Head() (Entry, bool) {
	var head Entry
	var ok bool
	d.do(func(s *feedState) {
		for _, e := range s.entries {
			if !e.IsGap() {
				head, ok = e, true
				return
			}
		}
	})
	return head, ok
}

// TailComplete reports whether the provider has confirmed there is
// nothing older than the current tail.
func (d *Datasource) TailComplete() bool {
	var complete bool
	d.do(func(s *feedState) {
		complete = s.tailComplete
	})
	return complete
}

// Tail returns the oldest real entry, if any.
func (d *Datasource) Tail() (Entry, bool) {
	var tail Entry
	var ok bool
	d.do(func(s *feedState) {
		for i := len(s.entries) - 1; i >= 0; i-- {
			if !s.entries[i].IsGap() {
				tail, ok = s.entries[i], true
				return
			}
		}
	})
	return tail, ok
}

// MarkSeenThroughHead advances the resume marker to the current head.
// The marker is monotonic; it never moves backwards.
func (d *Datasource) MarkSeenThroughHead() {
	d.do(func(s *feedState) {
		for _, e := range s.entries {
			if e.IsGap() {
				continue
			}
			if CompareKeys(e.SortKey, s.marker) > 0 {
				s.marker = e.SortKey
				s.dirty = true
			}
			return
		}
	})
}

// SetResumeMarker restores the marker from a cached snapshot. Like
// MarkSeenThroughHead it only ever moves the marker forward.
func (d *Datasource) SetResumeMarker(key SortKey) {
	d.do(func(s *feedState) {
		if CompareKeys(key, s.marker) > 0 {
			s.marker = key
		}
	})
}

func (d *Datasource) ResumeMarker() SortKey {
	var marker SortKey
	d.do(func(s *feedState) {
		marker = s.marker
	})
	return marker
}

// UnreadCount reports how many real entries are newer than the resume
// marker.
func (d *Datasource) UnreadCount() int {
	var count int
	d.do(func(s *feedState) {
		for _, e := range s.entries {
			if !e.IsGap() && CompareKeys(e.SortKey, s.marker) > 0 {
				count++
			}
		}
	})
	return count
}

// applyCap enforces the retention bound. Evicting real entries means
// the provider's oldest is no longer ours, so tail completeness is
// forgotten along with them.
func (s *feedState) applyCap() {
	before := len(s.entries)
	s.entries = truncate(s.entries, s.cap)
	if len(s.entries) < before {
		s.tailComplete = false
	}
}

func (s *feedState) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func realEntries(entries []Entry) []Entry {
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsGap() {
			result = append(result, e)
		}
	}
	return result
}

// sortEntries orders newest-first. On equal keys a gap sorts above the
// real entry it shields.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		c := CompareKeys(entries[i].SortKey, entries[j].SortKey)
		if c != 0 {
			return c > 0
		}
		return entries[i].IsGap() && !entries[j].IsGap()
	})
}

// normalize self-heals the invariants: duplicate ids are dropped
// keeping the first (newest-positioned) occurrence, adjacent gaps
// collapse to one, and leading/trailing gaps are removed. Duplicates
// reaching this point indicate a merge bug upstream; production drops
// them rather than crashing the feed.
func normalize(entries []Entry) []Entry {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := entries[:0:0]
	for _, e := range entries {
		if e.IsGap() {
			if len(out) == 0 || out[len(out)-1].IsGap() {
				continue
			}
			out = append(out, e)
			continue
		}
		if seen.Contains(e.ID) {
			slog.Warn("dropping duplicate entry", "id", e.ID)
			continue
		}
		seen.Add(e.ID)
		out = append(out, e)
	}
	for len(out) > 0 && out[len(out)-1].IsGap() {
		out = out[:len(out)-1]
	}
	return out
}

// truncate enforces the retention cap from the tail only. Tail
// eviction is silent truncation, never a gap: "load more" re-fetches.
func truncate(entries []Entry, limit int) []Entry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	entries = entries[:limit]
	for len(entries) > 0 && entries[len(entries)-1].IsGap() {
		entries = entries[:len(entries)-1]
	}
	return entries
}
