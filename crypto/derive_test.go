package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testOwner(fill byte) [20]byte {
	var owner [20]byte
	copy(owner[:], bytes.Repeat([]byte{fill}, 20))
	return owner
}

func TestDerivationIsDeterministic(t *testing.T) {
	owner := testOwner(0x11)
	require.Equal(t, RecordAddress(owner, 255), RecordAddress(owner, 255))
	require.Equal(t, VaultAddress(owner, 255), VaultAddress(owner, 255))
}

func TestRecordAndVaultAddressesDiffer(t *testing.T) {
	owner := testOwner(0x22)
	require.NotEqual(t, RecordAddress(owner, 255), VaultAddress(owner, 255))
}

func TestDerivationVariesWithInputs(t *testing.T) {
	a := testOwner(0x33)
	b := testOwner(0x44)
	require.NotEqual(t, VaultAddress(a, 255), VaultAddress(b, 255))
	require.NotEqual(t, VaultAddress(a, 255), VaultAddress(a, 254))
}

func TestFindNoncePrefersHighestFree(t *testing.T) {
	owner := testOwner(0x55)
	nonce, err := FindNonce(owner, func([20]byte) bool { return false })
	require.NoError(t, err)
	require.Equal(t, uint8(255), nonce)
}

func TestFindNonceSkipsOccupiedCandidates(t *testing.T) {
	owner := testOwner(0x66)
	blocked := VaultAddress(owner, 255)
	nonce, err := FindNonce(owner, func(addr [20]byte) bool { return addr == blocked })
	require.NoError(t, err)
	require.Equal(t, uint8(254), nonce)
}

func TestFindNonceExhausted(t *testing.T) {
	owner := testOwner(0x77)
	_, err := FindNonce(owner, func([20]byte) bool { return true })
	require.ErrorIs(t, err, ErrNoNonce)
}
