package entity

import (
	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/period"
)

// Result is the outcome of Validate. Errors lists every violation found.
type Result struct {
	Valid  bool
	Errors []string
}

const errNotAnObject = "entry must be an object"

// Validate checks a candidate entry without side effects. It accepts a typed
// Entry or a decoded JSON object (map[string]any); anything else is rejected
// with a single generic error. All violations are reported, not just the first.
func Validate(candidate any) Result {
	v := common.NewValidator()
	switch c := candidate.(type) {
	case Income:
		validateTyped(v, c)
	case Donation:
		validateTyped(v, c)
	case map[string]any:
		validateMap(v, c)
	default:
		return Result{Valid: false, Errors: []string{errNotAnObject}}
	}
	if v.HasErrors() {
		return Result{Valid: false, Errors: v.Messages()}
	}
	return Result{Valid: true, Errors: []string{}}
}

// IsValid is Validate for call sites that only need the verdict.
func IsValid(candidate any) bool {
	return Validate(candidate).Valid
}

var (
	typeRule   = common.OneOf(constants.EntryTypesAsStrings()...)
	noteRule   = common.MaxLength(constants.MaxNoteLength)
	periodRule = common.Matches(period.Valid, "YYYY-MM with month 01-12")
)

func validateTyped(v *common.Validator, e Entry) {
	b := e.Core()
	v.Field("id", b.ID, common.Required)
	v.Field("type", string(e.Type()), typeRule)
	v.Field("date", b.Date, common.Required)
	v.Field("amount", b.Amount, common.PositiveNumber)
	if b.Note != "" {
		v.Field("note", b.Note, noteRule)
	}
	if b.AccountingMonth != "" {
		v.Field("accountingMonth", b.AccountingMonth, periodRule)
	}
}

func validateMap(v *common.Validator, m map[string]any) {
	v.Field("id", m["id"], common.String, common.Required)
	v.Field("type", m["type"], typeRule)
	v.Field("date", m["date"], common.String, common.Required)
	v.Field("amount", m["amount"], common.PositiveNumber)
	if note, ok := m["note"]; ok && note != nil {
		v.Field("note", note, common.String, noteRule)
	}
	if month, ok := m["accountingMonth"]; ok && month != nil {
		v.Field("accountingMonth", month, common.String, periodRule)
	}
}

// Normalizer backfills derived fields before an entry is persisted.
type Normalizer struct {
	Deriver period.Deriver
}

// Normalize returns a copy of e with AccountingMonth derived from Date when it
// is missing. Entries that need nothing are returned unchanged, and nil passes
// through. The input is never modified.
func (n Normalizer) Normalize(e Entry) Entry {
	if e == nil {
		return nil
	}
	b := e.Core()
	if b.AccountingMonth != "" || b.Date == "" {
		return e
	}
	b.AccountingMonth = n.Deriver.Derive(b.Date)
	return e.WithCore(b)
}

// Normalize uses the wall clock for the deriver fallback.
func Normalize(e Entry) Entry {
	return Normalizer{}.Normalize(e)
}
