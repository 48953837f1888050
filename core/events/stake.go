package events

import (
	"strconv"

	"stakeledger/core/types"
	"stakeledger/crypto"
)

const (
	// TypeStakeRecordCreated is emitted when a participant's record and
	// paired vault are established.
	TypeStakeRecordCreated = "stake.recordCreated"
	// TypeStakeStaked captures a deposit into the escrow vault.
	TypeStakeStaked = "stake.staked"
	// TypeStakeUnstaked captures a withdrawal released from the vault.
	TypeStakeUnstaked = "stake.unstaked"
	// TypeStakePointsClaimed is emitted when accrued points are claimed and
	// the raw counter reset.
	TypeStakePointsClaimed = "stake.pointsClaimed"
	// TypeStakePaused signals a mutation rejected while the module is paused.
	TypeStakePaused = "stake.paused"
)

// StakeRecordCreated captures the addresses fixed at record creation.
type StakeRecordCreated struct {
	Owner           [20]byte
	RecordAddress   [20]byte
	VaultAddress    [20]byte
	DerivationNonce uint8
	CreatedAt       int64
}

// EventType satisfies the Event interface.
func (StakeRecordCreated) EventType() string { return TypeStakeRecordCreated }

// Event converts the structured payload into a broadcastable event.
func (e StakeRecordCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRecordCreated,
		Attributes: map[string]string{
			"owner":     crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"record":    crypto.MustNewAddress(crypto.StakePrefix, e.RecordAddress[:]).String(),
			"vault":     crypto.MustNewAddress(crypto.StakePrefix, e.VaultAddress[:]).String(),
			"nonce":     strconv.FormatUint(uint64(e.DerivationNonce), 10),
			"createdAt": strconv.FormatInt(e.CreatedAt, 10),
		},
	}
}

// StakeStaked captures the balance delta realised by a deposit.
type StakeStaked struct {
	Owner        [20]byte
	Amount       uint64
	StakedAmount uint64
	Timestamp    int64
}

// EventType satisfies the Event interface.
func (StakeStaked) EventType() string { return TypeStakeStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeStaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeStaked,
		Attributes: map[string]string{
			"owner":        crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"amount":       strconv.FormatUint(e.Amount, 10),
			"stakedAmount": strconv.FormatUint(e.StakedAmount, 10),
			"timestamp":    strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// StakeUnstaked captures the balance delta realised by a withdrawal.
type StakeUnstaked struct {
	Owner        [20]byte
	Amount       uint64
	StakedAmount uint64
	Timestamp    int64
}

// EventType satisfies the Event interface.
func (StakeUnstaked) EventType() string { return TypeStakeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeUnstaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeUnstaked,
		Attributes: map[string]string{
			"owner":        crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"amount":       strconv.FormatUint(e.Amount, 10),
			"stakedAmount": strconv.FormatUint(e.StakedAmount, 10),
			"timestamp":    strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// StakePointsClaimed captures a claim payout in display points.
type StakePointsClaimed struct {
	Owner     [20]byte
	Claimed   uint64
	Timestamp int64
}

// EventType satisfies the Event interface.
func (StakePointsClaimed) EventType() string { return TypeStakePointsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakePointsClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeStakePointsClaimed,
		Attributes: map[string]string{
			"owner":     crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"claimed":   strconv.FormatUint(e.Claimed, 10),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// StakePaused captures a stake request rejected due to a pause toggle.
type StakePaused struct {
	Owner     [20]byte
	Operation string
}

// EventType satisfies the Event interface.
func (StakePaused) EventType() string { return TypeStakePaused }

// Event converts the structured payload into a broadcastable event.
func (e StakePaused) Event() *types.Event {
	return &types.Event{
		Type: TypeStakePaused,
		Attributes: map[string]string{
			"owner":     crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"operation": e.Operation,
		},
	}
}
