package types

import "math/big"

// Account is a balance entry in the host ledger. Participant wallets and the
// program-owned escrow vaults are both plain accounts; vaults additionally
// carry the Vault marker tying them to the owner and nonce they were derived
// from, which is how the custody layer verifies re-presented derivation
// inputs before releasing funds.
type Account struct {
	Balance *big.Int     `json:"balance"`
	Nonce   uint64       `json:"nonce"`
	Vault   *VaultMarker `json:"vault,omitempty"`
}

// VaultMarker records the derivation inputs an escrow vault was created with.
type VaultMarker struct {
	Owner           [20]byte `json:"owner"`
	DerivationNonce uint8    `json:"derivationNonce"`
}

// EnsureDefaults backfills nil big.Int fields so callers can mutate the
// account without nil checks.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
