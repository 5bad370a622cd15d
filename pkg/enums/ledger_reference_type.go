package enums

// LedgerReferenceType identifies what produced a ledger entry.
type LedgerReferenceType string

const (
	LedgerReferenceDistribution   LedgerReferenceType = "distribution"
	LedgerReferenceTransaction    LedgerReferenceType = "transaction"
	LedgerReferenceReconciliation LedgerReferenceType = "reconciliation"
)

var validLedgerReferenceTypes = []LedgerReferenceType{
	LedgerReferenceDistribution,
	LedgerReferenceTransaction,
	LedgerReferenceReconciliation,
}

func (r LedgerReferenceType) IsValid() bool {
	for _, candidate := range validLedgerReferenceTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ReferenceFor returns the ledger reference type recorded for entries of an event kind.
func ReferenceFor(kind EventKind) LedgerReferenceType {
	if kind == EventKindTransaction {
		return LedgerReferenceTransaction
	}
	return LedgerReferenceDistribution
}
