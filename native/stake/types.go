package stake

// StakeAccount is the persistent accounting entry kept for each participant.
// The record itself never holds funds; the escrowed balance lives in the
// paired vault whose address is re-derived from the owner identity and the
// derivation nonce fixed here at creation.
type StakeAccount struct {
	Owner           [20]byte
	StakedAmount    uint64
	TotalPoints     uint64
	LastUpdateTime  int64
	DerivationNonce uint8
}

// Clone returns a copy callers can mutate without affecting the stored
// instance.
func (a *StakeAccount) Clone() *StakeAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
