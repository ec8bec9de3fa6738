package purchase

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionCodePrefix returns the day prefix of transaction codes, e.g.
// "TXN20251130".
func TransactionCodePrefix(day time.Time) string {
	return "TXN" + day.UTC().Format("20060102")
}

// FormatTransactionCode returns a code like "TXN202511300007".
func FormatTransactionCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", TransactionCodePrefix(day), seq)
}

// NewFarmerCode returns a code like "F20251130A1B2C3". The suffix is the
// first three random bytes of a v4 UUID.
func NewFarmerCode(day time.Time) string {
	u := uuid.New()
	return "F" + day.UTC().Format("20060102") + strings.ToUpper(hex.EncodeToString(u[:3]))
}

func newID() string {
	return uuid.NewString()
}

