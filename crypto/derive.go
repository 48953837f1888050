package crypto

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain tags namespacing the two derived addresses belonging to a
// participant. The record address holds the accounting entry; the vault
// address holds the escrowed funds and carries no data of its own.
var (
	recordSeed = []byte("stake-record")
	vaultSeed  = []byte("stake-vault")
)

// ErrNoNonce is returned when every candidate nonce derives an occupied vault
// address. With a 20-byte keccak address space this does not happen in
// practice.
var ErrNoNonce = errors.New("crypto: no usable derivation nonce")

func derive(seed []byte, owner [20]byte, nonce uint8) [20]byte {
	buf := make([]byte, 0, len(seed)+len(owner)+1)
	buf = append(buf, seed...)
	buf = append(buf, owner[:]...)
	buf = append(buf, nonce)
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// RecordAddress derives the address of the stake record owned by the given
// participant. The nonce must match the one fixed at record creation.
func RecordAddress(owner [20]byte, nonce uint8) [20]byte {
	return derive(recordSeed, owner, nonce)
}

// VaultAddress derives the address of the escrow vault paired with the given
// participant's record.
func VaultAddress(owner [20]byte, nonce uint8) [20]byte {
	return derive(vaultSeed, owner, nonce)
}

// FindNonce searches from the highest candidate downward for a nonce whose
// derived record and vault addresses are both reported unoccupied. The result
// is deterministic for a fixed occupancy view and is fixed on the record at
// creation so both addresses can be re-derived and verified later.
func FindNonce(owner [20]byte, occupied func([20]byte) bool) (uint8, error) {
	for candidate := 255; candidate >= 0; candidate-- {
		nonce := uint8(candidate)
		if occupied(RecordAddress(owner, nonce)) {
			continue
		}
		if occupied(VaultAddress(owner, nonce)) {
			continue
		}
		return nonce, nil
	}
	return 0, ErrNoNonce
}
