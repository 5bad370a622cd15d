package models

// All lists every persisted model, in dependency order, for SQLite AutoMigrate.
func All() []any {
	return []any{
		&Event{},
		&EventLineItem{},
		&LedgerEntry{},
		&InventorySnapshot{},
		&ReconciliationReport{},
		&AuditEvent{},
		&NumberSequence{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
