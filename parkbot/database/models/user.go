package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a community member identified by their Discord snowflake.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         int64     `bun:"id,pk" json:"id"`
	Nickname   string    `bun:"nickname" json:"nickname"`
	GlobalName string    `bun:"global_name" json:"global_name"`
	Coins      int64     `bun:"coins,notnull,default:0" json:"coins"`
	XP         int64     `bun:"xp,notnull,default:0" json:"xp"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// DisplayName prefers the community nickname over the Discord global name.
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.GlobalName
}
