package schema

import "time"

// Turn is one conversational exchange element inside a session window.
// ExternalID carries the upstream message id so later edits and deletions
// can find the turn again; Seq is the session-local ordinal assigned at
// append time.
type Turn struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey"`
	Seq        int       `json:"seq"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AuthorName string    `json:"authorName,omitempty"`
	ExternalID string    `json:"externalId,omitempty"`
	Images     []string  `json:"images,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
