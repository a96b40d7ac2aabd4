package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Completion is a verified (or pending) map run submitted by a user.
type Completion struct {
	bun.BaseModel `bun:"table:completions,alias:c"`

	ID       int64   `bun:"id,pk,autoincrement" json:"id"`
	UserID   int64   `bun:"user_id,notnull" json:"user_id"`
	MapID    int64   `bun:"map_id,notnull" json:"map_id"`
	Time     float64 `bun:"time,notnull" json:"time"`
	Medal    string  `bun:"medal" json:"medal"`
	Verified bool    `bun:"verified,notnull,default:false" json:"verified"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Map *Map `bun:"rel:belongs-to,join:map_id=id" json:"map,omitempty"`
}
