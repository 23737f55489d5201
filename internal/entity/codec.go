package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
)

// document is the JSON shape shared by the legacy list, backups and exports.
type document struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Amount          float64  `json:"amount"`
	Date            string   `json:"date"`
	AccountingMonth string   `json:"accountingMonth,omitempty"`
	Maaser          *float64 `json:"maaser,omitempty"`
	Note            string   `json:"note,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

func toDocument(e Entry) document {
	b := e.Core()
	doc := document{
		ID:              b.ID,
		Type:            string(e.Type()),
		Amount:          b.Amount,
		Date:            b.Date,
		AccountingMonth: b.AccountingMonth,
		Note:            b.Note,
	}
	if !b.UpdatedAt.IsZero() {
		doc.UpdatedAt = b.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if inc, ok := e.(Income); ok {
		m := inc.Maaser
		doc.Maaser = &m
	}
	return doc
}

func (i Income) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDocument(i))
}

func (d Donation) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDocument(d))
}

// Decode parses one JSON object into an entry. Invalid input yields a
// validation AppError listing every problem.
func Decode(raw []byte) (Entry, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, common.NewValidationError([]string{fmt.Sprintf("entry is not valid JSON: %v", err)})
	}
	return FromValue(v)
}

// FromValue converts an untrusted decoded JSON value, or an already typed
// entry, into an Entry after validating it.
func FromValue(v any) (Entry, error) {
	res := Validate(v)
	if !res.Valid {
		return nil, common.NewValidationError(res.Errors)
	}
	switch c := v.(type) {
	case Entry:
		return c, nil
	case map[string]any:
		return fromMap(c), nil
	}
	// Validate only accepts the cases above.
	panic(fmt.Sprintf("entity: unhandled candidate %T", v))
}

func fromMap(m map[string]any) Entry {
	b := Base{
		ID:              m["id"].(string),
		Amount:          number(m["amount"]),
		Date:            m["date"].(string),
		AccountingMonth: stringField(m, "accountingMonth"),
		Note:            stringField(m, "note"),
	}
	if s := stringField(m, "updatedAt"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			b.UpdatedAt = t.UTC()
		}
	}

	if constants.EntryType(m["type"].(string)) == constants.EntryTypeDonation {
		return NewDonation(b)
	}
	// Legacy and backup records carry their original snapshot; keep it.
	if maaser := number(m["maaser"]); maaser > 0 && !math.IsInf(maaser, 0) {
		return Income{Base: b, Maaser: maaser}
	}
	return NewIncome(b)
}

// number reads the numeric kinds PositiveNumber accepts. NaN and anything
// else read as 0.
func number(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
