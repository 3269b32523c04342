package model

import "time"

// Action is the kind of engagement the bot performs.
type Action string

const (
	ActionReply Action = "reply"
	ActionLike  Action = "like"
)

// Actions lists every action kind in a stable order.
func Actions() []Action { return []Action{ActionReply, ActionLike} }

// Valid reports whether a is a known action kind.
func (a Action) Valid() bool { return a == ActionReply || a == ActionLike }

func (a Action) String() string { return string(a) }

// Post represents a subset of X post fields used by the bot.
type Post struct {
	ID        string
	Author    string // screen name, no @
	Text      string
	CreatedAt time.Time
	Language  string
	IsRepost  bool
}

// NewerThan reports whether p was posted after the post with lastID.
// X post IDs are numeric snowflakes: a longer decimal string is always
// the larger ID, equal lengths compare lexicographically. Empty lastID
// means nothing has been seen yet.
func (p Post) NewerThan(lastID string) bool {
	if lastID == "" {
		return true
	}
	if len(p.ID) != len(lastID) {
		return len(p.ID) > len(lastID)
	}
	return p.ID > lastID
}
