package models

import "time"

// ReferralEdge links a user to the sponsor who recruited them. The edge set
// forms a forest: every child has at most one parent, written once at signup.
type ReferralEdge struct {
	ChildID   string    `json:"child_id" db:"child_id"`
	ParentID  string    `json:"parent_id" db:"parent_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UplineEntry is one ancestor in a user's sponsor chain, level 1 = direct parent
type UplineEntry struct {
	Level     int       `json:"level"`
	ParentID  string    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DownlineLevel groups direct and indirect recruits by depth
type DownlineLevel struct {
	Level   int      `json:"level"`
	UserIDs []string `json:"user_ids"`
}
