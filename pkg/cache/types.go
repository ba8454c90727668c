package cache

import (
	"github.com/mholloway/tideline/pkg/timeline"
)

// Schema versions the persisted record layout. A mismatch on load is
// treated as a cache miss, never as an error.
const Schema = 1

// Record is the persisted snapshot of one feed's state.
type Record struct {
	FeedKey      string           `msgpack:"f"`
	Entries      []timeline.Entry `msgpack:"e"`
	ResumeMarker string           `msgpack:"r"`
	SavedAt      int64            `msgpack:"t"`
	Schema       int              `msgpack:"s"`
}

func (r Record) IsEmpty() bool {
	return r.FeedKey == "" && len(r.Entries) == 0
}

// Truncate enforces the retention cap before a write, so the on-disk
// footprint never exceeds the in-memory bound. Eviction is from the
// tail only; a gap stranded at the new tail is dropped with it.
func (r Record) Truncate(limit int) Record {
	if limit <= 0 || len(r.Entries) <= limit {
		return r
	}
	entries := r.Entries[:limit]
	for len(entries) > 0 && entries[len(entries)-1].IsGap() {
		entries = entries[:len(entries)-1]
	}
	r.Entries = entries
	return r
}
