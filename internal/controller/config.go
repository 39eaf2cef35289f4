package controller

import (
	"fmt"

	enginerrors "ledger-reconciliation-engine/pkg/errors"
)

// Mode is the single run state, decided once at start. A run is either a
// preview or an apply; there is no third state and no mid-run switch.
type Mode int

const (
	// ModePreview emits a report and writes nothing.
	ModePreview Mode = iota
	// ModeApply persists decisions and logs every executed batch.
	ModeApply
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	if m == ModeApply {
		return "APPLY"
	}
	return "PREVIEW"
}

// OperationFamily groups mutations for authorization purposes. Each
// family carries its own token.
type OperationFamily string

const (
	// FamilyLinkWrite covers settlement link mutations.
	FamilyLinkWrite OperationFamily = "link_write"
	// FamilyLedgerFlag covers reversal flags and narrative canonicalization.
	FamilyLedgerFlag OperationFamily = "ledger_flag"
	// FamilySettlementDelete covers row deletion, the only destructive
	// family.
	FamilySettlementDelete OperationFamily = "settlement_delete"
)

// IsDestructive reports whether the family removes rows.
func (f OperationFamily) IsDestructive() bool {
	return f == FamilySettlementDelete
}

// Config holds the controller's execution parameters.
type Config struct {
	Mode Mode `json:"mode"`

	// ChunkSize bounds how many rows each transaction commits. Chunks
	// commit independently: at-least-once per chunk, never
	// all-or-nothing per run.
	ChunkSize int `json:"chunk_size"`

	// AuthTokens maps each operation family to the caller-supplied token.
	AuthTokens map[OperationFamily]string `json:"-"`

	// AllowList maps each operation family to its accepted tokens.
	// Destructive families with no allow-list entry can never apply.
	AllowList map[OperationFamily][]string `json:"-"`
}

// DefaultConfig returns a preview-mode configuration with the standard
// chunk size.
func DefaultConfig() *Config {
	return &Config{
		Mode:      ModePreview,
		ChunkSize: 1000,
		AuthTokens: map[OperationFamily]string{},
		AllowList:  map[OperationFamily][]string{},
	}
}

// Validate checks the controller configuration.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.ChunkSize)
	}
	return nil
}

// Authorize checks the caller token for a family against the allow-list.
// Non-destructive families pass without a token; destructive families
// fail closed.
func (c *Config) Authorize(family OperationFamily) error {
	switch family {
	case FamilyLinkWrite, FamilyLedgerFlag, FamilySettlementDelete:
	default:
		return enginerrors.Configuration(enginerrors.CodeUnknownOperation,
			string(family), "not a recognized operation family")
	}

	token, supplied := c.AuthTokens[family]
	if !supplied || token == "" {
		if family.IsDestructive() {
			return enginerrors.Configuration(enginerrors.CodeMissingAuthToken,
				string(family), "destructive family requires an authorization token")
		}
		return nil
	}
	for _, allowed := range c.AllowList[family] {
		if token == allowed {
			return nil
		}
	}
	return enginerrors.Configuration(enginerrors.CodeInvalidAuthToken,
		string(family), "token not in allow-list")
}
