package ledger

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/cascade/internal/calendar"
)

// namespace scopes the name-based identifiers below.
var namespace = uuid.MustParse("6f1c2b7e-3d4a-5c8e-9b0f-1a2d3e4f5a6b")

// ReturnID derives the identifier of the return for (depositID, period).
//
// The ID is a UUIDv5 over the natural key, so every attempt to pay the same
// deposit for the same period produces the same primary key. Both the
// primary key and UNIQUE(deposit_id, period) reject a second insert.
func ReturnID(depositID string, period calendar.Period) string {
	return uuid.NewSHA1(namespace, []byte("return:"+depositID+"|"+string(period))).String()
}

// CommissionID derives the identifier of the level-th commission of a return.
func CommissionID(returnID string, level int) string {
	return uuid.NewSHA1(namespace, []byte("commission:"+returnID+"|"+strconv.Itoa(level))).String()
}

// NewID returns a time-sortable UUIDv7 for rows without a natural key,
// such as fixture deposits written without an id.
//
// Panics if UUID generation fails (should never happen in practice).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
