package timeline

import (
	"fmt"

	"github.com/google/uuid"
)

// SortKey is the provider-assigned ordering token for an entry. Keys
// are decimal strings of varying length (snowflake-style ids), so a
// longer key is always newer; keys of equal length compare as strings.
type SortKey string

// CompareKeys returns -1, 0, or 1 as a is older than, equal to, or
// newer than b. The empty key is older than everything.
func CompareKeys(a, b SortKey) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Entry is one unit of timeline content. A nil Payload marks a gap: a
// placeholder for content that exists between its neighbors but has
// not been fetched yet.
type Entry struct {
	ID      string  `msgpack:"id" json:"id"`
	SortKey SortKey `msgpack:"k" json:"sortKey"`
	Payload *Post   `msgpack:"p" json:"payload"`

	// Version increases with each edit of the same id; stale stream
	// edits carry a lower version and are ignored.
	Version int64 `msgpack:"v" json:"version,omitempty"`
}

func (e Entry) IsGap() bool {
	return e.Payload == nil
}

// NewGap mints a gap marker. The gap carries the sort key of the entry
// it shields (its older neighbor at creation time) so that defensive
// re-sorts keep it directly above that entry.
func NewGap(older SortKey) Entry {
	return Entry{
		ID:      fmt.Sprintf("gap:%s", uuid.NewString()),
		SortKey: older,
	}
}

// Post is the parsed payload of a real entry. Upstream fields are
// riddled with optionals that vary by server version; all defaulting
// is resolved at the parsing boundary, so consumers of this struct
// never see partially-decoded data.
type Post struct {
	AuthorID     string `msgpack:"a" json:"authorId"`
	AuthorHandle string `msgpack:"h" json:"authorHandle"`
	AuthorName   string `msgpack:"n" json:"authorName,omitempty"`
	Text         string `msgpack:"x" json:"text"`
	CreatedAt    int64  `msgpack:"c" json:"createdAt"`
	EditedAt     int64  `msgpack:"e" json:"editedAt,omitempty"`
	InReplyToID  string `msgpack:"r" json:"inReplyToId,omitempty"`
	Language     string `msgpack:"l" json:"language,omitempty"`
	Sensitive    bool   `msgpack:"s" json:"sensitive,omitempty"`
	SpoilerText  string `msgpack:"w" json:"spoilerText,omitempty"`
}
