package constants

// EntryType is the discriminator stored in the entries.type column.
type EntryType string

// Stable values (store these exact strings in DB).
const (
	EntryTypeIncome   EntryType = "income"
	EntryTypeDonation EntryType = "donation"
)

var allEntryTypes = []EntryType{
	EntryTypeIncome,
	EntryTypeDonation,
}

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	for _, et := range allEntryTypes {
		if t == et {
			return true
		}
	}
	return false
}

func EntryTypesAsStrings() []string {
	result := make([]string, len(allEntryTypes))
	for i, et := range allEntryTypes {
		result[i] = string(et)
	}
	return result
}

const (
	// MaaserRate is the share of income owed as ma'aser, as a decimal string.
	// Entries snapshot the computed value, so changing this never rewrites history.
	MaaserRate = "0.1"

	MaxNoteLength = 500

	// AccountingMonthLayout is the time layout of the YYYY-MM bucket key.
	AccountingMonthLayout = "2006-01"
)
