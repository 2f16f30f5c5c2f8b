package sqlscheduler

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// reapAfter is the stuck-InProgress cutoff used by TimerStore.ReapExpired
// and JobRunStore.ReapExpired.
const reapAfter = 5 * time.Minute

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// fencingTokenToUUID deterministically maps a scheduler fencing token onto
// the owner_token column, purely for observability: "which lease holder
// claimed this row" without introducing a second int64 column.
func fencingTokenToUUID(fencingToken int64) uuid.UUID {
	var u uuid.UUID
	for i := 0; i < 8; i++ {
		u[15-i] = byte(fencingToken >> (8 * i))
	}
	return u
}
