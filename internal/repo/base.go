package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm repositories. It carries either the pooled
// connection or, after Bind, an open transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a copy scoped to tx. A nil tx keeps the current connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Conn prefers tx when one is supplied.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return b.Bind(tx).DB(ctx)
}

// Limits bounds list queries. Requests at or below zero get Default and
// requests above Max are capped.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) Clamp(requested int) int {
	switch {
	case requested <= 0:
		return l.Default
	case requested > l.Max:
		return l.Max
	default:
		return requested
	}
}
