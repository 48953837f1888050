package genesis

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"stakeledger/core/state"
	"stakeledger/crypto"
)

// Allocation seeds a wallet with an initial balance so a fresh node has funds
// available to stake.
type Allocation struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// File is the YAML document listing initial balances.
type File struct {
	Allocations []Allocation `yaml:"allocations"`
}

// Load parses an allocation file from disk.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	file := new(File)
	if err := yaml.Unmarshal(raw, file); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return file, nil
}

// Apply writes the allocations into state. Balances replace whatever the
// target accounts currently hold, so this is only meant for empty databases.
func (f *File) Apply(mgr *state.Manager) error {
	for i, alloc := range f.Allocations {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(alloc.Balance, 10)
		if !ok || balance.Sign() < 0 {
			return fmt.Errorf("genesis: allocation %d: invalid balance %q", i, alloc.Balance)
		}
		var fixed [20]byte
		copy(fixed[:], addr.Bytes())
		account, err := mgr.GetAccount(fixed)
		if err != nil {
			return err
		}
		account.Balance = balance
		if err := mgr.PutAccount(fixed, account); err != nil {
			return err
		}
	}
	return nil
}
