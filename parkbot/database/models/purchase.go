package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Purchase records a store transaction for auditing and ownership history.
type Purchase struct {
	bun.BaseModel `bun:"table:purchases,alias:p"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64     `bun:"user_id,notnull" json:"user_id"`
	ItemID    *int64    `bun:"item_id" json:"item_id,omitempty"`
	KeyType   string    `bun:"key_type" json:"key_type,omitempty"`
	Quantity  int       `bun:"quantity,notnull,default:1" json:"quantity"`
	CoinsPaid int64     `bun:"coins_paid,notnull" json:"coins_paid"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Item *Item `bun:"rel:belongs-to,join:item_id=id" json:"item,omitempty"`
}
