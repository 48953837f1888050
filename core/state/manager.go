package state

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/core/types"
	"stakeledger/crypto"
	"stakeledger/native/stake"
	"stakeledger/storage"
)

var (
	accountPrefix    = []byte("account:")
	recordPrefix     = []byte("stake-record:")
	nonceIndexPrefix = []byte("stake-nonce:")
)

var (
	errVaultMissing = errors.New("state: vault not established at derived address")
	errVaultCustody = errors.New("state: vault custody marker does not match derivation inputs")
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func recordKey(addr [20]byte) []byte {
	buf := make([]byte, len(recordPrefix)+len(addr))
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func nonceIndexKey(owner [20]byte) []byte {
	buf := make([]byte, len(nonceIndexPrefix)+len(owner))
	copy(buf, nonceIndexPrefix)
	copy(buf[len(nonceIndexPrefix):], owner[:])
	return ethcrypto.Keccak256(buf)
}

// Manager provides deterministic-key persistence for stake records and host
// ledger balance accounts, and implements the custody protocol the stake
// engine relies on. All keys are keccak hashes of a prefix plus the address,
// mirroring the fixed-layout record storage the ledger core expects.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// storedAccount is the deterministic serialisation of a balance account. RLP
// has no optional pointer fields without tags, so the vault marker is
// flattened alongside a presence flag.
type storedAccount struct {
	Balance    *big.Int
	Nonce      uint64
	HasVault   bool
	VaultOwner [20]byte
	VaultNonce uint8
}

// storedRecord mirrors stake.StakeAccount with the timestamp widened to an
// unsigned field for RLP, which encodes only unsigned integers.
type storedRecord struct {
	Owner           [20]byte
	StakedAmount    uint64
	TotalPoints     uint64
	LastUpdateTime  uint64
	DerivationNonce uint8
}

func newStoredRecord(record *stake.StakeAccount) (*storedRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("state: nil stake record")
	}
	ts := record.LastUpdateTime
	if ts < 0 {
		return nil, fmt.Errorf("state: negative record timestamp %d", ts)
	}
	return &storedRecord{
		Owner:           record.Owner,
		StakedAmount:    record.StakedAmount,
		TotalPoints:     record.TotalPoints,
		LastUpdateTime:  uint64(ts),
		DerivationNonce: record.DerivationNonce,
	}, nil
}

func (s *storedRecord) toStakeAccount() (*stake.StakeAccount, error) {
	if s.LastUpdateTime > math.MaxInt64 {
		return nil, fmt.Errorf("state: stored timestamp out of range")
	}
	return &stake.StakeAccount{
		Owner:           s.Owner,
		StakedAmount:    s.StakedAmount,
		TotalPoints:     s.TotalPoints,
		LastUpdateTime:  int64(s.LastUpdateTime),
		DerivationNonce: s.DerivationNonce,
	}, nil
}

// GetAccount loads the balance account at an address, returning an empty
// account when none is stored yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	key := accountKey(addr)
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureDefaults(), nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{Balance: stored.Balance, Nonce: stored.Nonce}
	if stored.HasVault {
		account.Vault = &types.VaultMarker{Owner: stored.VaultOwner, DerivationNonce: stored.VaultNonce}
	}
	return account.EnsureDefaults(), nil
}

// PutAccount persists the balance account at an address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	account = account.EnsureDefaults()
	stored := &storedAccount{Balance: account.Balance, Nonce: account.Nonce}
	if account.Vault != nil {
		stored.HasVault = true
		stored.VaultOwner = account.Vault.Owner
		stored.VaultNonce = account.Vault.DerivationNonce
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

func (m *Manager) hasAccount(addr [20]byte) (bool, error) {
	return m.db.Has(accountKey(addr))
}

func (m *Manager) hasRecord(addr [20]byte) (bool, error) {
	return m.db.Has(recordKey(addr))
}

// SelectNonce picks the derivation nonce for a new record: the highest
// candidate whose derived record and vault addresses are both unoccupied.
func (m *Manager) SelectNonce(owner [20]byte) (uint8, error) {
	var probeErr error
	nonce, err := crypto.FindNonce(owner, func(addr [20]byte) bool {
		if probeErr != nil {
			return true
		}
		if ok, err := m.hasRecord(addr); err != nil {
			probeErr = err
			return true
		} else if ok {
			return true
		}
		if ok, err := m.hasAccount(addr); err != nil {
			probeErr = err
			return true
		} else if ok {
			return true
		}
		return false
	})
	if probeErr != nil {
		return 0, probeErr
	}
	return nonce, err
}

// StakeGet loads the stake record for an owner by following the nonce index
// to the derived record address.
func (m *Manager) StakeGet(owner [20]byte) (*stake.StakeAccount, bool, error) {
	idxKey := nonceIndexKey(owner)
	ok, err := m.db.Has(idxKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := m.db.Get(idxKey)
	if err != nil {
		return nil, false, err
	}
	if len(raw) != 1 {
		return nil, false, fmt.Errorf("state: malformed nonce index for owner")
	}
	nonce := raw[0]
	data, err := m.db.Get(recordKey(crypto.RecordAddress(owner, nonce)))
	if err != nil {
		return nil, false, err
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode stake record: %w", err)
	}
	record, err := stored.toStakeAccount()
	if err != nil {
		return nil, false, err
	}
	if record.DerivationNonce != nonce {
		return nil, false, fmt.Errorf("state: record nonce does not match index")
	}
	return record, true, nil
}

// StakePut replaces the stored record at its derived address.
func (m *Manager) StakePut(record *stake.StakeAccount) error {
	stored, err := newStoredRecord(record)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode stake record: %w", err)
	}
	addr := crypto.RecordAddress(record.Owner, record.DerivationNonce)
	return m.db.Put(recordKey(addr), encoded)
}

// StakeCreate persists a brand-new record, writes the owner's nonce index and
// establishes the paired vault account with zero balance and a custody marker
// recording the derivation inputs.
func (m *Manager) StakeCreate(record *stake.StakeAccount) error {
	if record == nil {
		return fmt.Errorf("state: nil stake record")
	}
	if ok, err := m.db.Has(nonceIndexKey(record.Owner)); err != nil {
		return err
	} else if ok {
		return stake.ErrRecordExists
	}
	recordAddr := crypto.RecordAddress(record.Owner, record.DerivationNonce)
	if ok, err := m.hasRecord(recordAddr); err != nil {
		return err
	} else if ok {
		return stake.ErrRecordExists
	}
	if err := m.StakePut(record); err != nil {
		return err
	}
	if err := m.db.Put(nonceIndexKey(record.Owner), []byte{record.DerivationNonce}); err != nil {
		return err
	}
	vaultAddr := crypto.VaultAddress(record.Owner, record.DerivationNonce)
	vault := &types.Account{
		Balance: big.NewInt(0),
		Vault:   &types.VaultMarker{Owner: record.Owner, DerivationNonce: record.DerivationNonce},
	}
	return m.PutAccount(vaultAddr, vault)
}

// loadVault re-derives the vault address from the presented inputs and
// verifies its custody marker. Funds only move through vaults that prove
// their derivation, never through ambient access to an address.
func (m *Manager) loadVault(owner [20]byte, nonce uint8) ([20]byte, *types.Account, error) {
	addr := crypto.VaultAddress(owner, nonce)
	ok, err := m.hasAccount(addr)
	if err != nil {
		return addr, nil, err
	}
	if !ok {
		return addr, nil, errVaultMissing
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return addr, nil, err
	}
	if account.Vault == nil || account.Vault.Owner != owner || account.Vault.DerivationNonce != nonce {
		return addr, nil, errVaultCustody
	}
	return addr, account, nil
}

// VaultDeposit moves amount from the owner's wallet into the derived vault.
// The transfer is all-or-nothing: a wallet shortfall fails before any write.
func (m *Manager) VaultDeposit(owner [20]byte, nonce uint8, amount uint64) error {
	vaultAddr, vault, err := m.loadVault(owner, nonce)
	if err != nil {
		return err
	}
	wallet, err := m.GetAccount(owner)
	if err != nil {
		return err
	}
	value := new(big.Int).SetUint64(amount)
	if wallet.Balance.Cmp(value) < 0 {
		return fmt.Errorf("state: insufficient wallet balance: have %s, need %s", wallet.Balance, value)
	}
	wallet.Balance = new(big.Int).Sub(wallet.Balance, value)
	vault.Balance = new(big.Int).Add(vault.Balance, value)
	if err := m.PutAccount(owner, wallet); err != nil {
		return err
	}
	return m.PutAccount(vaultAddr, vault)
}

// VaultWithdraw verifies custody over the derived vault and moves amount back
// to the owner's wallet. A vault shortfall is reported as
// stake.ErrInsufficientVaultBalance so the engine can distinguish an escrow
// desync from plain over-withdrawal.
func (m *Manager) VaultWithdraw(owner [20]byte, nonce uint8, amount uint64) error {
	vaultAddr, vault, err := m.loadVault(owner, nonce)
	if err != nil {
		return err
	}
	value := new(big.Int).SetUint64(amount)
	if vault.Balance.Cmp(value) < 0 {
		return stake.ErrInsufficientVaultBalance
	}
	wallet, err := m.GetAccount(owner)
	if err != nil {
		return err
	}
	vault.Balance = new(big.Int).Sub(vault.Balance, value)
	wallet.Balance = new(big.Int).Add(wallet.Balance, value)
	if err := m.PutAccount(vaultAddr, vault); err != nil {
		return err
	}
	return m.PutAccount(owner, wallet)
}

// VaultBalance reports the funds currently escrowed in the derived vault.
func (m *Manager) VaultBalance(owner [20]byte, nonce uint8) (*big.Int, error) {
	_, vault, err := m.loadVault(owner, nonce)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vault.Balance), nil
}
