// Package feed fetches account activity from the GitHub REST API.
package feed

import (
	"encoding/json"
	"time"
)

// Event is one entry of GET /users/{user}/events. Payload is decoded per type by consumers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	Public    bool            `json:"public"`
	CreatedAt time.Time       `json:"created_at"`
}

type Actor struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type Repo struct {
	Name string `json:"name"`
}

// Event types handled by the classifier.
const (
	TypePush         = "PushEvent"
	TypeCreate       = "CreateEvent"
	TypeIssues       = "IssuesEvent"
	TypeIssueComment = "IssueCommentEvent"
	TypeFork         = "ForkEvent"
	TypeWatch        = "WatchEvent"
)
