// Package sqllease implements lease.Factory and lease.Renewer against a bun
// model, grounded on the teacher queue library's sql/model.go +
// sql/init.go pair: a single bun.BaseModel struct plus a table/index
// bootstrap routine wrapped in a transaction.
package sqllease

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type leaseModel struct {
	bun.BaseModel `bun:"table:leases"`

	ResourceName string    `bun:"resource_name,pk"`
	OwnerToken   uuid.UUID `bun:"owner_token,type:uuid,notnull"`
	FencingToken int64     `bun:"fencing_token,notnull,default:0"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
	ContextJSON  *string   `bun:"context_json,nullzero"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
