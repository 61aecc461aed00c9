package model

import "time"

type Author struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	HomepageURL string    `json:"homepage_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Comment is immutable once persisted. ParentID nil means a root comment.
type Comment struct {
	ID         int64     `json:"id"`
	ParentID   *int64    `json:"parent_id"`
	Text       string    `json:"text"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
}

// CommentNode is one level of a materialized reply tree. Children is always
// non-nil so truncated nodes serialize as an empty list rather than null.
type CommentNode struct {
	Comment
	Children []CommentNode `json:"children"`
}

// Challenge is a one-time captcha token: consumed on the first validation
// attempt whether or not the response matches.
type Challenge struct {
	Key       string
	Response  string
	Question  string
	ExpiresAt time.Time
}

// Envelope is the payload delivered to every live subscriber when a
// comment is fanned out.
type Envelope struct {
	Type    string      `json:"type"`
	Comment CommentNode `json:"comment"`
}

const EnvelopeNewComment = "new_comment"

type SiteStats struct {
	Authors  int64 `json:"authors"`
	Comments int64 `json:"comments"`
}
