package timeline

import (
	"sync"
	"testing"
)

func post(id string) Entry {
	return Entry{
		ID:      id,
		SortKey: SortKey(id),
		Payload: &Post{AuthorHandle: "someone", Text: "post " + id},
		Version: 1,
	}
}

func posts(ids ...string) []Entry {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = post(id)
	}
	return entries
}

func ids(entries []Entry) []string {
	result := make([]string, len(entries))
	for i, e := range entries {
		if e.IsGap() {
			result[i] = "gap"
		} else {
			result[i] = e.ID
		}
	}
	return result
}

func assertIDs(t *testing.T, got []Entry, expected ...string) {
	t.Helper()
	actual := ids(got)
	if len(actual) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, actual)
		}
	}
}

// checkInvariants verifies descending sort-key order for real entries
// and the absence of duplicate ids, after any sequence of operations.
func checkInvariants(t *testing.T, entries []Entry) {
	t.Helper()
	seen := map[string]bool{}
	last := SortKey("")
	first := true
	for _, e := range entries {
		if e.IsGap() {
			continue
		}
		if seen[e.ID] {
			t.Fatalf("duplicate id %s in snapshot", e.ID)
		}
		seen[e.ID] = true
		if !first && CompareKeys(e.SortKey, last) >= 0 {
			t.Fatalf("snapshot not strictly descending at %s", e.ID)
		}
		last = e.SortKey
		first = false
	}
}

func TestSeedSortsAndDeduplicates(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed([]Entry{post("3"), post("5"), post("4"), post("5")})
	snap := ds.Snapshot()
	assertIDs(t, snap, "5", "4", "3")
	checkInvariants(t, snap)
}

func TestPrependPageNotContiguousInsertsOneGap(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4", "3"))
	ds.PrependPage(posts("7", "6"), false)

	snap := ds.Snapshot()
	assertIDs(t, snap, "7", "6", "gap", "5", "4", "3")
	checkInvariants(t, snap)
}

func TestPrependPageContiguousNeverIntroducesGap(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4", "3"))
	ds.PrependPage(posts("7", "6"), true)

	assertIDs(t, ds.Snapshot(), "7", "6", "5", "4", "3")
}

func TestPrependPageOverlapNewEntryWins(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4", "3"))
	edited := post("5")
	edited.Version = 9
	ds.PrependPage([]Entry{post("6"), edited}, true)

	snap := ds.Snapshot()
	assertIDs(t, snap, "6", "5", "4", "3")
	if snap[1].Version != 9 {
		t.Errorf("expected page entry to win overlap, got version %d", snap[1].Version)
	}
	checkInvariants(t, snap)
}

func TestPrependToEmpty(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	// No old head to be discontiguous with: no gap either way.
	ds.PrependPage(posts("2", "1"), false)
	assertIDs(t, ds.Snapshot(), "2", "1")
}

func TestAppendPageExtendsTailAndDeduplicates(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))
	ds.AppendPage(posts("4", "3", "2"), true)
	assertIDs(t, ds.Snapshot(), "5", "4", "3", "2")
}

func TestAppendAfterInsertBelowTailKeepsOrder(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))
	// Late delivery: the event's key is older than the current tail.
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("2")})
	ds.AppendPage(posts("3", "1"), true)

	snap := ds.Snapshot()
	assertIDs(t, snap, "5", "4", "3", "2", "1")
	checkInvariants(t, snap)
}

func TestCapEnforcedOnAppend(t *testing.T) {
	ds := NewDatasource(3)
	defer ds.Close()

	ds.Seed(posts("9", "8"))
	ds.AppendPage(posts("7", "6", "5", "4"), true)
	ds.AppendPage(posts("3", "2"), false)

	snap := ds.Snapshot()
	if len(snap) > 3 {
		t.Fatalf("expected at most 3 entries, got %d", len(snap))
	}
	assertIDs(t, snap, "9", "8", "7")
}

func TestCapEvictionNeverStrandsTailGap(t *testing.T) {
	ds := NewDatasource(4)
	defer ds.Close()

	ds.Seed(posts("9", "8", "7"))
	ds.PrependPage(posts("20", "19"), false) // 20 19 gap 9 8 7 -> truncated

	snap := ds.Snapshot()
	if len(snap) > 4 {
		t.Fatalf("expected at most 4 entries, got %d", len(snap))
	}
	if snap[len(snap)-1].IsGap() {
		t.Error("tail eviction left a trailing gap")
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))
	insert := StreamEvent{Kind: KindInsert, Entry: post("6")}
	ds.ApplyStreamEvent(insert)
	ds.ApplyStreamEvent(insert)

	assertIDs(t, ds.Snapshot(), "6", "5", "4")
}

func TestInsertBelowHeadKeepsOrder(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	// Out-of-order arrival: the event's key is older than the head.
	ds.Seed(posts("7", "5"))
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("6")})

	snap := ds.Snapshot()
	assertIDs(t, snap, "7", "6", "5")
	checkInvariants(t, snap)
}

func TestDeleteRemovesWithoutGap(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("7", "6", "5", "4", "3"))
	ds.ApplyStreamEvent(StreamEvent{Kind: KindDelete, ID: "5"})

	assertIDs(t, ds.Snapshot(), "7", "6", "4", "3")
}

func TestDeleteBetweenGapsCollapsesThem(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("3", "2", "1"))
	// Build up: 9 8 gap 5 gap 3 2 1, then delete the entry between
	// the gaps.
	ds.PrependPage(posts("5"), false)
	ds.PrependPage(posts("9", "8"), false)
	ds.ApplyStreamEvent(StreamEvent{Kind: KindDelete, ID: "5"})

	gaps := 0
	for _, e := range ds.Snapshot() {
		if e.IsGap() {
			gaps++
		}
	}
	if gaps != 1 {
		t.Errorf("expected adjacent gaps to collapse to 1, got %d", gaps)
	}
}

func TestEditOrdering(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))
	ds.ApplyStreamEvent(StreamEvent{
		Kind: KindEdit, ID: "5",
		Payload: &Post{Text: "v1"}, Version: 10,
	})
	// Older version arriving late must be ignored.
	ds.ApplyStreamEvent(StreamEvent{
		Kind: KindEdit, ID: "5",
		Payload: &Post{Text: "v0"}, Version: 5,
	})

	snap := ds.Snapshot()
	if snap[0].Payload.Text != "v1" {
		t.Errorf("expected payload v1, got %q", snap[0].Payload.Text)
	}
	if snap[0].Version != 10 {
		t.Errorf("expected version 10, got %d", snap[0].Version)
	}
}

func TestFillGapComplete(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4", "3"))
	ds.PrependPage(posts("7", "6"), false)

	gapID := ds.Snapshot()[2].ID
	newer, older, ok := ds.GapBounds(gapID)
	if !ok || newer != "6" || older != "5" {
		t.Fatalf("unexpected gap bounds: %s %s %v", newer, older, ok)
	}

	// Both neighbors confirmed adjacent; nothing in between.
	ds.FillGap(gapID, nil, true)
	assertIDs(t, ds.Snapshot(), "7", "6", "5", "4", "3")
}

func TestFillGapWithEntries(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("9", "3"))
	ds.PrependPage(posts("12", "11"), false) // 12 11 gap 9 3
	gapID := ds.Snapshot()[2].ID

	ds.FillGap(gapID, posts("10"), true)
	snap := ds.Snapshot()
	assertIDs(t, snap, "12", "11", "10", "9", "3")
	checkInvariants(t, snap)
}

func TestFillGapDropsOutOfRangeEntries(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("9", "3"))
	ds.PrependPage(posts("12", "11"), false) // 12 11 gap 9 3
	gapID := ds.Snapshot()[2].ID

	// Provider returns a neighbor duplicate and an entry outside the
	// gap's range alongside the one real fill.
	ds.FillGap(gapID, posts("11", "10", "2"), true)
	snap := ds.Snapshot()
	assertIDs(t, snap, "12", "11", "10", "9", "3")
	checkInvariants(t, snap)
}

func TestFillGapIncompleteKeepsShrunkGap(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("9", "2", "1"))
	ds.PrependPage(posts("12", "11"), false) // 12 11 gap 9 2 1
	// Manufacture the interesting gap: between 9 and 2.
	ds.ApplyStreamEvent(StreamEvent{Kind: KindDelete, ID: "9"})
	// Now: 12 11 gap 2 1. Fill with a short provider response.
	gapID := ds.Snapshot()[2].ID

	ds.FillGap(gapID, posts("8", "7"), false)
	snap := ds.Snapshot()
	assertIDs(t, snap, "12", "11", "8", "7", "gap", "2", "1")
	checkInvariants(t, snap)
}

func TestFillGapGoneIsNoop(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))
	if _, _, ok := ds.GapBounds("gap:nope"); ok {
		t.Error("expected missing gap to report !ok")
	}
	ds.FillGap("gap:nope", posts("9"), true)
	assertIDs(t, ds.Snapshot(), "5", "4")
}

func TestResumeMarkerAndUnread(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4", "3"))
	ds.MarkSeenThroughHead()
	if ds.ResumeMarker() != "5" {
		t.Fatalf("expected marker 5, got %s", ds.ResumeMarker())
	}
	if ds.UnreadCount() != 0 {
		t.Fatalf("expected 0 unread, got %d", ds.UnreadCount())
	}

	ds.PrependPage(posts("7", "6"), true)
	if ds.UnreadCount() != 2 {
		t.Errorf("expected 2 unread, got %d", ds.UnreadCount())
	}

	// Marker is monotonic: restoring an older one is a no-op.
	ds.SetResumeMarker("2")
	if ds.ResumeMarker() != "5" {
		t.Errorf("expected marker to stay at 5, got %s", ds.ResumeMarker())
	}
}

func TestChangedSignalCoalesces(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("3"))
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("4")})
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("5")})

	select {
	case <-ds.Changed():
	default:
		t.Fatal("expected a change signal")
	}
	// Duplicate insert is a no-op and must not signal once drained.
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("5")})
	select {
	case <-ds.Changed():
		t.Error("no-op mutation fired a change signal")
	default:
	}
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	ds := NewDatasource(0)
	defer ds.Close()

	ds.Seed(posts("5", "4"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("6")})
	}()
	go func() {
		defer wg.Done()
		ds.AppendPage(posts("3"), true)
	}()
	wg.Wait()

	snap := ds.Snapshot()
	checkInvariants(t, snap)

	found := map[string]int{}
	for _, e := range snap {
		found[e.ID]++
	}
	if found["6"] != 1 || found["3"] != 1 {
		t.Errorf("expected exactly one of each concurrent entry, got %v", ids(snap))
	}
}

func TestOpsAfterCloseAreNoops(t *testing.T) {
	ds := NewDatasource(0)
	ds.Seed(posts("5"))
	ds.Close()

	// Must not deadlock or panic.
	ds.ApplyStreamEvent(StreamEvent{Kind: KindInsert, Entry: post("6")})
	if snap := ds.Snapshot(); snap != nil {
		t.Errorf("expected nil snapshot after close, got %v", ids(snap))
	}
	ds.Close() // double close is safe
}
