package orders

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber renders ORD-<yyyymmddHHMMSSmmm>-<6 hex>. The random suffix
// keeps numbers minted in the same millisecond apart; storage still enforces
// uniqueness.
func NewOrderNumber(now time.Time) string {
	now = now.UTC()
	u := uuid.New()
	return fmt.Sprintf("ORD-%s%03d-%s",
		now.Format("20060102150405"),
		now.Nanosecond()/int(time.Millisecond),
		strings.ToUpper(hex.EncodeToString(u[:3])),
	)
}

func NewTransactionID() string {
	return "TXN-" + strings.ToUpper(uuid.NewString())
}
