package entity

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/maaser-tracker/constants"
)

// Base holds the fields every entry carries.
type Base struct {
	ID     string
	Amount float64
	// Date is the real-world payment or receipt date as an ISO-8601 string.
	Date string
	// AccountingMonth is the YYYY-MM bucket the entry counts toward. It may
	// differ from the month of Date. Empty means not yet derived.
	AccountingMonth string
	Note            string
	// UpdatedAt orders concurrent edits of the same id (last write wins).
	UpdatedAt time.Time
}

// Entry is either an Income or a Donation.
type Entry interface {
	Type() constants.EntryType
	// Core returns a copy of the shared fields.
	Core() Base
	// WithCore returns a copy of the entry with its shared fields replaced.
	WithCore(Base) Entry
	sealed()
}

// Income is money received. Maaser is the obligation snapshot taken when the
// income was recorded and is never recomputed.
type Income struct {
	Base
	Maaser float64
}

// Donation is money given. It owes nothing, so it has no ma'aser.
type Donation struct {
	Base
}

func (Income) Type() constants.EntryType { return constants.EntryTypeIncome }
func (i Income) Core() Base               { return i.Base }
func (i Income) WithCore(b Base) Entry {
	i.Base = b
	return i
}
func (Income) sealed() {}

func (Donation) Type() constants.EntryType { return constants.EntryTypeDonation }
func (d Donation) Core() Base               { return d.Base }
func (d Donation) WithCore(b Base) Entry {
	d.Base = b
	return d
}
func (Donation) sealed() {}

var maaserRate = decimal.RequireFromString(constants.MaaserRate)

// MaaserFor computes the ma'aser owed on an income amount at the current rate.
// Non-finite amounts owe nothing; validation rejects them.
func MaaserFor(amount float64) float64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return decimal.NewFromFloat(amount).Mul(maaserRate).InexactFloat64()
}

// NewIncome builds an income entry and takes its ma'aser snapshot.
func NewIncome(b Base) Income {
	return Income{Base: b, Maaser: MaaserFor(b.Amount)}
}

func NewDonation(b Base) Donation {
	return Donation{Base: b}
}

// WithMaaserSnapshot fills a missing ma'aser on an income. Present values are
// kept as they are, whatever the current rate.
func WithMaaserSnapshot(e Entry) Entry {
	if inc, ok := e.(Income); ok && inc.Maaser == 0 {
		inc.Maaser = MaaserFor(inc.Amount)
		return inc
	}
	return e
}
