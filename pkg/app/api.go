package app

import (
	"time"

	"github.com/mholloway/tideline/pkg/timeline"
)

// apiStatus is the wire shape of one post from the REST and streaming
// APIs. Most fields are optional across server versions; defaulting is
// resolved here, at the parsing boundary, and nowhere else.
type apiStatus struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	EditedAt    *time.Time `json:"edited_at"`
	Content     string     `json:"content"`
	Sensitive   bool       `json:"sensitive"`
	SpoilerText string     `json:"spoiler_text"`
	Language    *string    `json:"language"`
	InReplyToID *string    `json:"in_reply_to_id"`
	Account     apiAccount `json:"account"`
}

type apiAccount struct {
	ID          string `json:"id"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
}

// entry maps a wire status onto the timeline model. The status id
// doubles as the sort key: ids are snowflake tokens, comparable and
// usable as pagination cursors. The edit version is the edit
// timestamp when present, else the creation timestamp, in
// microseconds so that edits landing within the same second still
// carry strictly increasing versions.
func (s apiStatus) entry() timeline.Entry {
	post := &timeline.Post{
		AuthorID:     s.Account.ID,
		AuthorHandle: s.Account.Acct,
		AuthorName:   s.Account.DisplayName,
		Text:         s.Content,
		CreatedAt:    s.CreatedAt.Unix(),
		Sensitive:    s.Sensitive,
		SpoilerText:  s.SpoilerText,
	}
	version := s.CreatedAt.UnixMicro()
	if s.EditedAt != nil {
		post.EditedAt = s.EditedAt.Unix()
		version = s.EditedAt.UnixMicro()
	}
	if s.Language != nil {
		post.Language = *s.Language
	}
	if s.InReplyToID != nil {
		post.InReplyToID = *s.InReplyToID
	}
	return timeline.Entry{
		ID:      s.ID,
		SortKey: timeline.SortKey(s.ID),
		Payload: post,
		Version: version,
	}
}

// APITimelineResponse is what the snapshot endpoint serves to the
// rendering layer.
type APITimelineResponse struct {
	Feed         string           `json:"feed"`
	Entries      []timeline.Entry `json:"entries"`
	Unread       int              `json:"unread"`
	ResumeMarker string           `json:"resumeMarker,omitempty"`
}

type APIErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}
