package enums

import "fmt"

// TxType maps to the ledger_tx_type_enum enum in Postgres.
type TxType string

const (
	TxTypeDelivery                 TxType = "DELIVERY"
	TxTypeCollection               TxType = "COLLECTION"
	TxTypeReturn                   TxType = "RETURN"
	TxTypeTransfer                 TxType = "TRANSFER"
	TxTypeLoad                     TxType = "LOAD"
	TxTypeUnload                   TxType = "UNLOAD"
	TxTypeManualAdjustment         TxType = "MANUAL_ADJUSTMENT"
	TxTypeReconciliationAdjustment TxType = "RECONCILIATION_ADJUSTMENT"
)

var validTxTypes = []TxType{
	TxTypeDelivery,
	TxTypeCollection,
	TxTypeReturn,
	TxTypeTransfer,
	TxTypeLoad,
	TxTypeUnload,
	TxTypeManualAdjustment,
	TxTypeReconciliationAdjustment,
}

// IsValid reports whether the value matches the canonical tx type enum.
func (t TxType) IsValid() bool {
	for _, candidate := range validTxTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTxType converts raw input into TxType.
func ParseTxType(value string) (TxType, error) {
	for _, candidate := range validTxTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tx type %q", value)
}
