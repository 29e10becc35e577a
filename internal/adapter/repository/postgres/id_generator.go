package postgres

import (
	"github.com/oklog/ulid/v2"
)

// ULIDGenerator issues lexically sortable identifiers for records, ledger
// entries, events and audit entries.
type ULIDGenerator struct{}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate returns a new ULID string.
func (g *ULIDGenerator) Generate() string {
	return ulid.Make().String()
}
